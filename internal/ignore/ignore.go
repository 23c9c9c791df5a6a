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

// Package ignore implements the gitignore-flavored ignore pattern
// semantics of spec §6: a directory-suffix form ("node_modules/"), an
// extension form ("*.tmp"), and a plain exact-filename-anywhere form.
// Pattern parsing follows the shape of the teacher's internal/ignore
// Matcher; matching itself is delegated to gobwas/glob (the teacher's
// own pinned calmh/glob fork, via the go.mod replace directive) rather
// than the teacher's fnmatch.Convert, since the pattern language here
// is narrower than full gitignore glob syntax. Per-path match results
// are cached with an access-time-tracked cache (cache.go) grounded on
// the teacher's, but keyed off this package's pattern type and driven by
// an injected internal/timeutil.Clock instead of calling time.Now
// directly, so its TTL sweep can be exercised deterministically in
// tests.
package ignore

import (
	"bufio"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/calmh/peersync/internal/timeutil"
)

// cacheTTL bounds how long a cached match result survives without being
// asked about again; a long-lived watch on a folder shouldn't carry a
// cache entry for every path ever seen.
const cacheTTL = 10 * time.Minute

// Built-in patterns that are always ignored, regardless of the folder's
// own ignore file.
var builtin = []string{
	".DS_Store",
	".git/",
	"node_modules/",
	".build/",
	".swiftpm/",
}

type patternKind int

const (
	kindDir patternKind = iota
	kindExt
	kindName
)

type pattern struct {
	kind  patternKind
	text  string // directory name, extension (without the leading "*."), or filename
	glob  glob.Glob
	raw   string
}

// Matcher holds a compiled, ordered set of ignore patterns for one
// folder, plus a time-bounded per-path result cache.
type Matcher struct {
	clock    timeutil.Clock
	patterns []pattern
	mut      sync.Mutex
	cache    *cache
}

// New returns a Matcher seeded with the built-in always-ignored patterns,
// using the real wall clock for its match-result cache.
func New() *Matcher {
	return NewWithClock(timeutil.SystemClock{})
}

// NewWithClock is New, but with the cache's access-time clock injected;
// used by tests that need to drive cacheTTL expiry deterministically.
func NewWithClock(clock timeutil.Clock) *Matcher {
	m := &Matcher{clock: clock, cache: newCache(clock, nil)}
	for _, p := range builtin {
		m.mustAdd(p)
	}
	return m
}

// Load reads additional patterns (one per line, "#"-prefixed comments and
// blank lines skipped) from r, appending them after whatever the Matcher
// already holds (built-ins always take precedence in iteration order,
// matching the teacher's first-match-wins Match loop).
func (m *Matcher) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := m.Add(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (m *Matcher) mustAdd(line string) {
	if err := m.Add(line); err != nil {
		panic(err)
	}
}

// Add compiles and appends one pattern line.
func (m *Matcher) Add(line string) error {
	var p pattern
	p.raw = line
	switch {
	case strings.HasSuffix(line, "/"):
		p.kind = kindDir
		p.text = strings.TrimSuffix(line, "/")
	case strings.HasPrefix(line, "*."):
		p.kind = kindExt
		p.text = strings.TrimPrefix(line, "*.")
		g, err := glob.Compile(line)
		if err != nil {
			return err
		}
		p.glob = g
	default:
		p.kind = kindName
		p.text = line
	}

	m.mut.Lock()
	m.patterns = append(m.patterns, p)
	m.cache = newCache(m.clock, m.patterns)
	m.mut.Unlock()
	return nil
}

// Match reports whether relPath (slash-separated, relative to the folder
// root) should be ignored.
func (m *Matcher) Match(relPath string) bool {
	relPath = filepathToSlash(relPath)

	m.mut.Lock()
	if v, ok := m.cache.get(relPath); ok {
		m.mut.Unlock()
		return v
	}
	patterns := m.patterns
	m.mut.Unlock()

	result := matchAgainst(relPath, patterns)

	m.mut.Lock()
	m.cache.set(relPath, result)
	if m.cache.len() > 4096 {
		m.cache.clean(cacheTTL)
	}
	m.mut.Unlock()
	return result
}

func matchAgainst(relPath string, patterns []pattern) bool {
	segments := strings.Split(relPath, "/")
	base := segments[len(segments)-1]

	for _, p := range patterns {
		switch p.kind {
		case kindDir:
			for _, seg := range segments[:len(segments)-1] {
				if seg == p.text {
					return true
				}
			}
			if base == p.text {
				// A bare directory pattern also matches the directory
				// entry itself, not only files beneath it.
				return true
			}
		case kindExt:
			if p.glob.Match(base) {
				return true
			}
		case kindName:
			if base == p.text {
				return true
			}
			for _, seg := range segments {
				if seg == p.text {
					return true
				}
			}
		}
	}
	return false
}

func filepathToSlash(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}
