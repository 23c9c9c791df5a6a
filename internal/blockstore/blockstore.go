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

// Package blockstore implements the content-addressed blob cache of spec
// §4.2: put/get/has by SHA-256 hash, backed by a local directory with
// two-level hex fan-out (the key layout convention used throughout the
// teacher's files/leveldb.go), an in-memory LRU for hot chunks, and a
// Bloom filter to answer most "do we have this" misses without touching
// disk at all.
package blockstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/greatroar/blobloom"

	"github.com/calmh/peersync/internal/logger"
)

var (
	debug = strings.Contains(os.Getenv("STTRACE"), "blockstore") || os.Getenv("STTRACE") == "all"
	l     = logger.DefaultLogger
)

// ErrNotFound is returned by Get when the hash is not in the store.
var ErrNotFound = errors.New("blockstore: not found")

// ErrHashMismatch is returned by Put when the supplied bytes don't hash
// to the given key.
var ErrHashMismatch = errors.New("blockstore: hash mismatch")

const hotCacheSize = 4096

// Store is a process-wide, concurrency-safe content-addressed blob cache.
// Multiple folders and multiple in-flight transfers share one Store.
type Store struct {
	root   string
	hot    *lru.Cache[[sha256.Size]byte, []byte]
	filter *blobloom.Filter
	mut    sync.Mutex // guards filter population on Put
}

// Open creates or reuses a blob cache rooted at dir.
func Open(dir string, expectedBlocks uint64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	hot, err := lru.New[[sha256.Size]byte, []byte](hotCacheSize)
	if err != nil {
		return nil, err
	}
	if expectedBlocks == 0 {
		expectedBlocks = 1 << 16
	}
	filter := blobloom.NewOptimized(blobloom.Config{
		Capacity: expectedBlocks,
		FPRate:   0.01,
	})
	s := &Store{root: dir, hot: hot, filter: filter}
	if err := s.primeFilter(); err != nil {
		return nil, err
	}
	return s, nil
}

// primeFilter walks the existing fan-out directories once at startup so
// Has/HasMany can start rejecting definite misses immediately.
func (s *Store) primeFilter() error {
	return filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		parent := filepath.Base(filepath.Dir(path))
		hexHash := parent + name
		raw, decErr := hex.DecodeString(hexHash)
		if decErr != nil || len(raw) != sha256.Size {
			return nil
		}
		s.filter.Add(bloomKey(raw))
		return nil
	})
}

func bloomKey(hash []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(hash); i++ {
		v = v<<8 | uint64(hash[i])
	}
	return v
}

func (s *Store) paths(hash [sha256.Size]byte) (dir, file string) {
	enc := hex.EncodeToString(hash[:])
	return filepath.Join(s.root, enc[:2]), enc[2:]
}

// Has reports whether a chunk with the given hash is present.
func (s *Store) Has(hash [sha256.Size]byte) bool {
	if _, ok := s.hot.Get(hash); ok {
		return true
	}
	if !s.filter.Has(bloomKey(hash[:])) {
		return false
	}
	dir, file := s.paths(hash)
	_, err := os.Stat(filepath.Join(dir, file))
	return err == nil
}

// HasMany reports presence for a batch of hashes in one call, as used by
// §4.10 step 2 to compute the missing-chunk set.
func (s *Store) HasMany(hashes [][sha256.Size]byte) map[[sha256.Size]byte]bool {
	out := make(map[[sha256.Size]byte]bool, len(hashes))
	for _, h := range hashes {
		out[h] = s.Has(h)
	}
	return out
}

// Get returns the bytes for hash, or ErrNotFound.
func (s *Store) Get(hash [sha256.Size]byte) ([]byte, error) {
	if data, ok := s.hot.Get(hash); ok {
		return data, nil
	}
	dir, file := s.paths(hash)
	data, err := os.ReadFile(filepath.Join(dir, file))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	s.hot.Add(hash, data)
	return data, nil
}

// Put stores bytes under hash. Per invariant 7, chunks are immutable:
// calling Put again with the same hash and matching bytes is a no-op: if
// the bytes don't actually hash to the given key, ErrHashMismatch is
// returned and nothing is written.
func (s *Store) Put(hash [sha256.Size]byte, data []byte) error {
	if sha256.Sum256(data) != hash {
		return ErrHashMismatch
	}

	dir, file := s.paths(hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, file)
	if _, err := os.Stat(dst); err == nil {
		// Already present; content-addressing guarantees it's the same
		// bytes, so this Put is a no-op.
		s.hot.Add(hash, data)
		return nil
	}

	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	s.mut.Lock()
	s.filter.Add(bloomKey(hash[:]))
	s.mut.Unlock()
	s.hot.Add(hash, data)

	if debug {
		l.Debugf("blockstore: put %x (%d bytes)", hash[:4], len(data))
	}
	return nil
}

func (s *Store) String() string {
	return fmt.Sprintf("Store(%s)", s.root)
}
