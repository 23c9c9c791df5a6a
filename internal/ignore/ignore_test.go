// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
// more details.
//
// You should have received a copy of the GNU General Public License along
// with this program. If not, see <http://www.gnu.org/licenses/>.

package ignore

import (
	"strings"
	"testing"
	"time"
)

func TestBuiltins(t *testing.T) {
	m := New()
	cases := map[string]bool{
		".DS_Store":                 true,
		"sub/.DS_Store":             true,
		".git/HEAD":                 true,
		"node_modules/pkg/index.js": true,
		"src/main.go":               false,
	}
	for path, want := range cases {
		if got := m.Match(path); got != want {
			t.Errorf("Match(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestDirectoryPattern(t *testing.T) {
	m := New()
	if err := m.Add("build/"); err != nil {
		t.Fatal(err)
	}
	if !m.Match("build/output.bin") {
		t.Errorf("expected build/ to match nested file")
	}
	if !m.Match("sub/build/output.bin") {
		t.Errorf("expected build/ to match at any depth")
	}
	if m.Match("rebuild/output.bin") {
		t.Errorf("directory pattern must not match a differently named segment")
	}
}

func TestExtensionPattern(t *testing.T) {
	m := New()
	if err := m.Add("*.tmp"); err != nil {
		t.Fatal(err)
	}
	if !m.Match("notes/scratch.tmp") {
		t.Errorf("expected *.tmp to match nested .tmp file")
	}
	if m.Match("notes/scratch.tmp.bak") {
		t.Errorf("*.tmp should not match a file whose extension is .bak")
	}
}

func TestExactNamePattern(t *testing.T) {
	m := New()
	if err := m.Add("Thumbs.db"); err != nil {
		t.Fatal(err)
	}
	if !m.Match("Thumbs.db") {
		t.Errorf("expected exact top-level match")
	}
	if !m.Match("sub/dir/Thumbs.db") {
		t.Errorf("expected exact match at any depth")
	}
	if m.Match("Thumbs.db.old") {
		t.Errorf("exact filename pattern must not match a suffixed name")
	}
}

func TestLoad(t *testing.T) {
	m := New()
	r := strings.NewReader("# comment\n\n*.log\ncache/\n")
	if err := m.Load(r); err != nil {
		t.Fatal(err)
	}
	if !m.Match("a.log") || !m.Match("cache/x") {
		t.Errorf("patterns from Load should be active")
	}
}

func TestNewWithClockDrivesCacheTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := NewWithClock(clock)
	if err := m.Add("*.tmp"); err != nil {
		t.Fatal(err)
	}

	if m.Match("keep.txt") {
		t.Fatalf("unexpected match before cache population")
	}
	if _, ok := m.cache.get("keep.txt"); !ok {
		t.Fatalf("expected keep.txt cached after Match")
	}

	clock.now = clock.now.Add(cacheTTL + time.Second)
	m.cache.clean(cacheTTL)
	if _, ok := m.cache.get("keep.txt"); ok {
		t.Fatalf("expected cache entry to expire once the injected clock passes cacheTTL")
	}
}

func TestCachePerPath(t *testing.T) {
	m := New()
	if err := m.Add("*.tmp"); err != nil {
		t.Fatal(err)
	}
	if m.Match("keep.txt") {
		t.Errorf("unexpected match before cache population")
	}
	// Second call should hit the cache and return the same answer.
	if m.Match("keep.txt") {
		t.Errorf("unexpected match from cached lookup")
	}
}
