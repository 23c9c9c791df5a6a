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

package statestore

import (
	"testing"

	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/vectorclock"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetAbsent(t *testing.T) {
	s := openTestStore(t)
	st, err := s.Get("nope")
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsAbsent() {
		t.Errorf("expected absent state for unknown path")
	}
}

func TestSetExistsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	vc := vectorclock.New().Increment("p1")
	m := syncmodel.FileMetadata{ContentHash: [32]byte{1, 2, 3}, ModTime: 42, Size: 99, VC: vc}
	if err := s.SetExists("a/b.txt", m); err != nil {
		t.Fatal(err)
	}
	st, err := s.Get("a/b.txt")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := st.Metadata()
	if !ok {
		t.Fatalf("expected Exists state")
	}
	if got.ContentHash != m.ContentHash || got.Size != m.Size {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestSetDeletedAndIterate(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetDeleted("x", syncmodel.DeletionRecord{DeletedAt: 1, DeletedBy: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetExists("y", syncmodel.FileMetadata{}); err != nil {
		t.Fatal(err)
	}

	var seen []string
	if err := s.IterDeletedPaths(func(p string, _ syncmodel.DeletionRecord) bool {
		seen = append(seen, p)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != "x" {
		t.Errorf("expected only x to be reported deleted, got %v", seen)
	}
}

func TestCleanupExpired(t *testing.T) {
	s := openTestStore(t)
	s.SetDeleted("old", syncmodel.DeletionRecord{DeletedAt: 0})
	s.SetDeleted("new", syncmodel.DeletionRecord{DeletedAt: 1000})

	const ttl = 100
	n, err := s.CleanupExpired(1000, ttl, func(string, syncmodel.DeletionRecord) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept tombstone, got %d", n)
	}
	if st, _ := s.Get("old"); !st.IsAbsent() {
		t.Errorf("expired tombstone should have been removed")
	}
	if st, _ := s.Get("new"); !st.IsDeleted() {
		t.Errorf("fresh tombstone should survive")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	snap := syncmodel.FolderSnapshot{
		SyncID:   "ab12",
		FolderID: "folder-1",
		Files:    map[string]syncmodel.FileMetadata{"a": {Size: 1}},
		TakenAt:  123,
	}
	if err := s.PutSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncID != snap.SyncID || len(got.Files) != 1 {
		t.Errorf("got %+v, want %+v", got, snap)
	}
}

func TestSyncLogRecentAndSubscribe(t *testing.T) {
	sl := NewSyncLog(2)
	ch, unsub := sl.Subscribe()
	defer unsub()

	sl.Append(SyncLogEntry{Path: "a", Op: OpUpload})
	sl.Append(SyncLogEntry{Path: "b", Op: OpDownload})
	sl.Append(SyncLogEntry{Path: "c", Op: OpDelete})

	recent := sl.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected ring buffer capped at 2, got %d", len(recent))
	}
	if recent[0].Path != "b" || recent[1].Path != "c" {
		t.Errorf("unexpected recent entries: %+v", recent)
	}

	select {
	case e := <-ch:
		if e.Path != "a" {
			t.Errorf("expected first subscribed entry to be a, got %s", e.Path)
		}
	default:
		t.Fatal("expected a buffered entry on the subscription channel")
	}
}
