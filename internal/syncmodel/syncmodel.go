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

// Package syncmodel holds the core data entities shared by every layer of
// the sync engine: the tagged-union FileState, its two variants, and the
// FolderSnapshot persisted across restarts. The shape follows protocol.FileInfo
// (internal/protocol/message.go) generalized from a single Flags-encoded
// deleted bit to an explicit discriminated union, per the "never a nullable
// metadata plus an is_deleted flag" guidance.
package syncmodel

import (
	"github.com/calmh/peersync/internal/vectorclock"
)

// PeerID is an opaque printable peer identifier; equality is string
// equality.
type PeerID string

// FileMetadata describes a live file. ContentHash is authoritative for
// equality between two copies of the same path.
type FileMetadata struct {
	ContentHash [32]byte
	ModTime     int64 // unix nanoseconds
	Size        int64
	VC          vectorclock.Clock
}

// DeletionRecord is a tombstone: the record of a path having been deleted.
type DeletionRecord struct {
	DeletedAt int64 // unix nanoseconds
	DeletedBy PeerID
	VC        vectorclock.Clock
}

type stateKind int

const (
	stateAbsent stateKind = iota
	stateExists
	stateDeleted
)

// FileState is a tagged union: a path is either live (Exists) or tombstoned
// (Deleted), never both and never neither represented by a zero value with
// a bool flag.
type FileState struct {
	kind    stateKind
	exists  FileMetadata
	deleted DeletionRecord
}

// Absent is the zero FileState: neither variant applies.
var Absent = FileState{kind: stateAbsent}

// NewExists wraps file metadata as a live FileState.
func NewExists(m FileMetadata) FileState {
	return FileState{kind: stateExists, exists: m}
}

// NewDeleted wraps a tombstone as a deleted FileState.
func NewDeleted(t DeletionRecord) FileState {
	return FileState{kind: stateDeleted, deleted: t}
}

func (s FileState) IsAbsent() bool  { return s.kind == stateAbsent }
func (s FileState) IsExists() bool  { return s.kind == stateExists }
func (s FileState) IsDeleted() bool { return s.kind == stateDeleted }

// Metadata returns the live metadata and true if s is Exists.
func (s FileState) Metadata() (FileMetadata, bool) {
	if s.kind != stateExists {
		return FileMetadata{}, false
	}
	return s.exists, true
}

// Tombstone returns the deletion record and true if s is Deleted.
func (s FileState) Tombstone() (DeletionRecord, bool) {
	if s.kind != stateDeleted {
		return DeletionRecord{}, false
	}
	return s.deleted, true
}

// FolderSnapshot is persisted atomically after each successful sync run and
// used to restore last-known paths/metadata across restarts and to detect
// renames on the next run.
type FolderSnapshot struct {
	SyncID   string
	FolderID string
	Files    map[string]FileMetadata
	TakenAt  int64
}
