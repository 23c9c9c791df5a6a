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

// Package merkle builds a single order-independent summary digest over a
// folder's (path, content hash) pairs, used as a cheap "are we identical"
// test between two peers before paying for a full file listing.
package merkle

import (
	"crypto/sha256"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Digest is a summary root. A nil Digest represents an empty folder.
type Digest *[sha256.Size]byte

// Summary accumulates (path, hash) pairs and produces a root digest.
// Insert is safe for concurrent use from multiple goroutines; Root is
// not safe to call concurrently with Insert.
type Summary struct {
	entries *xsync.MapOf[string, [sha256.Size]byte]
}

func New() *Summary {
	return &Summary{entries: xsync.NewMapOf[string, [sha256.Size]byte]()}
}

// Insert records the content hash for path, replacing any previous entry.
func (s *Summary) Insert(path string, hash [sha256.Size]byte) {
	s.entries.Store(path, hash)
}

// Len returns the number of distinct paths currently recorded.
func (s *Summary) Len() int {
	return s.entries.Size()
}

// Root computes the summary digest. It is order-independent: the digest
// depends only on the set of (path, hash) pairs, not the order they were
// inserted in or iterated over. Two peers whose visible (path -> hash)
// maps are identical after conflict-file filtering produce the same root
// (invariant 4 of the data model).
func (s *Summary) Root() Digest {
	if s.entries.Size() == 0 {
		return nil
	}

	paths := make([]string, 0, s.entries.Size())
	s.entries.Range(func(k string, _ [sha256.Size]byte) bool {
		paths = append(paths, k)
		return true
	})
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		hash, _ := s.entries.Load(p)
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(hash[:])
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return &out
}

// Equal reports whether two digests identify the same set of pairs.
func Equal(a, b Digest) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
