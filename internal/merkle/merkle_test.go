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

package merkle

import (
	"crypto/sha256"
	"testing"
)

func hashOf(s string) [sha256.Size]byte {
	return sha256.Sum256([]byte(s))
}

func TestEmptyIsNil(t *testing.T) {
	s := New()
	if root := s.Root(); root != nil {
		t.Fatalf("expected nil root for empty summary, got %v", root)
	}
}

func TestOrderIndependent(t *testing.T) {
	a := New()
	a.Insert("b.txt", hashOf("B"))
	a.Insert("a.txt", hashOf("A"))

	b := New()
	b.Insert("a.txt", hashOf("A"))
	b.Insert("b.txt", hashOf("B"))

	if !Equal(a.Root(), b.Root()) {
		t.Fatalf("roots should match regardless of insertion order")
	}
}

func TestDiffersOnContent(t *testing.T) {
	a := New()
	a.Insert("a.txt", hashOf("A"))

	b := New()
	b.Insert("a.txt", hashOf("A-modified"))

	if Equal(a.Root(), b.Root()) {
		t.Fatalf("roots should differ when content hashes differ")
	}
}

func TestReplaceUpdatesRoot(t *testing.T) {
	s := New()
	s.Insert("a.txt", hashOf("A"))
	r1 := s.Root()
	s.Insert("a.txt", hashOf("A2"))
	r2 := s.Root()
	if Equal(r1, r2) {
		t.Fatalf("root must change after replacing a path's hash")
	}
}
