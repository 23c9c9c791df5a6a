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

// Package statestore persists the per-folder path -> FileState map, the
// FolderSnapshot taken after each run, and the sync log. It follows the
// goleveldb-backed design of files/leveldb.go (key prefixing by kind,
// snapshot isolation via db.GetSnapshot, batched writes) generalized from
// that file's per-node/global key layout to a single per-folder FileState
// map, since the spec's DecisionEngine already receives both sides'
// FileState explicitly rather than needing a global version-list index.
package statestore

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/calmh/peersync/internal/logger"
	"github.com/calmh/peersync/internal/syncmodel"
)

var (
	debug = strings.Contains(os.Getenv("STTRACE"), "statestore") || os.Getenv("STTRACE") == "all"
	l     = logger.DefaultLogger
)

const (
	keyTypeFile byte = iota
	keyTypeSnapshot
)

// Store is a per-folder persistent FileState map plus the folder's latest
// snapshot, backed by one goleveldb database. It is exclusively owned by
// one SyncCoordinator; concurrent access is only safe through that
// coordinator's serial dispatch, per the ownership rule in spec §3 — the
// mutex here guards the leveldb handle itself, not logical ordering.
type Store struct {
	db   *leveldb.DB
	path string
	mut  sync.Mutex
}

// Open opens (creating if necessary) the per-folder store rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: dir}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func fileKey(path string) []byte {
	k := make([]byte, 1+len(path))
	k[0] = keyTypeFile
	copy(k[1:], path)
	return k
}

func snapshotKey() []byte {
	return []byte{keyTypeSnapshot}
}

// storedState is the JSON-on-disk encoding for one path's FileState. JSON
// rather than XDR here: the teacher's leveldb layer marshals
// protocol.FileInfo with MarshalXDR/UnmarshalXDR because that's the exact
// wire encoding it needs to share with the network layer; FileState has no
// wire counterpart (GetFiles/FilesV2 carry their own encoding, see
// internal/syncproto) so there's nothing gained from sharing a codec here.
type storedState struct {
	Kind     string                  `json:"kind"` // "exists" or "deleted"
	Exists   syncmodel.FileMetadata  `json:"exists,omitempty"`
	Deleted  syncmodel.DeletionRecord `json:"deleted,omitempty"`
}

func encodeState(s syncmodel.FileState) ([]byte, error) {
	var st storedState
	if m, ok := s.Metadata(); ok {
		st.Kind = "exists"
		st.Exists = m
	} else if t, ok := s.Tombstone(); ok {
		st.Kind = "deleted"
		st.Deleted = t
	} else {
		return nil, nil // absent: caller should Remove instead
	}
	return json.Marshal(st)
}

func decodeState(bs []byte) (syncmodel.FileState, error) {
	var st storedState
	if err := json.Unmarshal(bs, &st); err != nil {
		return syncmodel.Absent, err
	}
	switch st.Kind {
	case "exists":
		return syncmodel.NewExists(st.Exists), nil
	case "deleted":
		return syncmodel.NewDeleted(st.Deleted), nil
	default:
		return syncmodel.Absent, nil
	}
}

// Get returns the FileState for path, or the zero Absent value if there is
// none recorded.
func (s *Store) Get(path string) (syncmodel.FileState, error) {
	bs, err := s.db.Get(fileKey(path), nil)
	if err == leveldb.ErrNotFound {
		return syncmodel.Absent, nil
	}
	if err != nil {
		return syncmodel.Absent, err
	}
	return decodeState(bs)
}

// SetExists records path as live with the given metadata.
func (s *Store) SetExists(path string, m syncmodel.FileMetadata) error {
	if debug {
		l.Debugf("statestore: set exists %q", path)
	}
	bs, err := encodeState(syncmodel.NewExists(m))
	if err != nil {
		return err
	}
	return s.db.Put(fileKey(path), bs, nil)
}

// SetDeleted records path as tombstoned with the given deletion record.
func (s *Store) SetDeleted(path string, t syncmodel.DeletionRecord) error {
	if debug {
		l.Debugf("statestore: set deleted %q by=%s", path, t.DeletedBy)
	}
	bs, err := encodeState(syncmodel.NewDeleted(t))
	if err != nil {
		return err
	}
	return s.db.Put(fileKey(path), bs, nil)
}

// Remove deletes any record (live or tombstoned) for path.
func (s *Store) Remove(path string) error {
	return s.db.Delete(fileKey(path), nil)
}

// MigratePath moves the persisted FileState (and with it the path's
// vector clock) from oldPath to newPath, per §4.7 step 5's rename
// handling. If oldPath has no recorded state this is a no-op.
func (s *Store) MigratePath(oldPath, newPath string) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	bs, err := s.db.Get(fileKey(oldPath), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(fileKey(newPath), bs)
	batch.Delete(fileKey(oldPath))
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	if debug {
		l.Debugf("statestore: migrated %q -> %q", oldPath, newPath)
	}
	return nil
}

// IterDeletedPaths calls fn for every currently tombstoned path. Iteration
// stops early if fn returns false.
func (s *Store) IterDeletedPaths(fn func(path string, t syncmodel.DeletionRecord) bool) error {
	start := []byte{keyTypeFile}
	limit := []byte{keyTypeSnapshot}
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	it := snap.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer it.Release()
	for it.Next() {
		state, err := decodeState(it.Value())
		if err != nil {
			continue
		}
		t, ok := state.Tombstone()
		if !ok {
			continue
		}
		path := string(bytes.TrimPrefix(it.Key(), []byte{keyTypeFile}))
		if !fn(path, t) {
			break
		}
	}
	return it.Error()
}

// CleanupExpired removes Deleted entries older than ttlNanos for which
// predicate returns true, per spec §4.5's cleanup_expired operation.
func (s *Store) CleanupExpired(nowNanos int64, ttlNanos int64, predicate func(path string, t syncmodel.DeletionRecord) bool) (int, error) {
	var toRemove []string
	err := s.IterDeletedPaths(func(path string, t syncmodel.DeletionRecord) bool {
		if nowNanos-t.DeletedAt > ttlNanos && predicate(path, t) {
			toRemove = append(toRemove, path)
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	s.mut.Lock()
	defer s.mut.Unlock()
	batch := new(leveldb.Batch)
	for _, p := range toRemove {
		batch.Delete(fileKey(p))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, err
	}
	if debug && len(toRemove) > 0 {
		l.Debugf("statestore: swept %d expired tombstones", len(toRemove))
	}
	return len(toRemove), nil
}

// AllPaths returns every path with a recorded state (Exists or Deleted).
func (s *Store) AllPaths() ([]string, error) {
	start := []byte{keyTypeFile}
	limit := []byte{keyTypeSnapshot}
	it := s.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer it.Release()

	var paths []string
	for it.Next() {
		paths = append(paths, string(bytes.TrimPrefix(it.Key(), []byte{keyTypeFile})))
	}
	return paths, it.Error()
}

// PutSnapshot persists the folder's latest snapshot, overwriting any
// previous one.
func (s *Store) PutSnapshot(snap syncmodel.FolderSnapshot) error {
	bs, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Put(snapshotKey(), bs, nil)
}

// GetSnapshot returns the folder's last persisted snapshot, or a
// zero-valued one with a nil Files map if none has ever been written.
func (s *Store) GetSnapshot() (syncmodel.FolderSnapshot, error) {
	bs, err := s.db.Get(snapshotKey(), nil)
	if err == leveldb.ErrNotFound {
		return syncmodel.FolderSnapshot{}, nil
	}
	if err != nil {
		return syncmodel.FolderSnapshot{}, err
	}
	var snap syncmodel.FolderSnapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		return syncmodel.FolderSnapshot{}, err
	}
	return snap, nil
}
