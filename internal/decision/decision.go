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

// Package decision implements the pure reconciliation rules: given one
// path's local and remote FileState, what should happen to it. No I/O, no
// dependency on any other package's state — a deliberately small, pure
// function in the teacher's style of isolated helpers like
// internal/scanner's block-diffing.
package decision

import (
	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/vectorclock"
)

// Action is the outcome of reconciling one path between two peers.
type Action int

const (
	Skip Action = iota
	Download
	Upload
	DeleteLocal
	DeleteRemote
	Conflict
	Uncertain
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "Skip"
	case Download:
		return "Download"
	case Upload:
		return "Upload"
	case DeleteLocal:
		return "DeleteLocal"
	case DeleteRemote:
		return "DeleteRemote"
	case Conflict:
		return "Conflict"
	default:
		return "Uncertain"
	}
}

// Decide evaluates the rules of §4.8 top to bottom; the first match wins.
func Decide(local, remote syncmodel.FileState) Action {
	if local.IsAbsent() && remote.IsAbsent() {
		return Skip
	}

	lm, lExists := local.Metadata()
	rm, rExists := remote.Metadata()
	if lExists && rExists && lm.ContentHash == rm.ContentHash {
		return Skip
	}

	if lExists && remote.IsAbsent() {
		return Upload
	}
	if rExists && local.IsAbsent() {
		return Download
	}

	lt, lDeleted := local.Tombstone()
	rt, rDeleted := remote.Tombstone()

	if lDeleted && remote.IsAbsent() {
		return Skip
	}
	if rDeleted && local.IsAbsent() {
		return Skip
	}

	if lDeleted && rDeleted {
		return Skip
	}

	// Deletion vs. modification: one side Deleted, the other Exists.
	if lDeleted && rExists {
		return deletionVsModification(lt.VC, rm.VC, DeleteRemote, Download)
	}
	if rDeleted && lExists {
		return deletionVsModification(rt.VC, lm.VC, DeleteLocal, Upload)
	}

	if lExists && rExists {
		switch lm.VC.Compare(rm.VC) {
		case vectorclock.Antecedent:
			return Download
		case vectorclock.Successor:
			return Upload
		default:
			// Equal-but-differing-hash, or Concurrent: both are Conflict.
			return Conflict
		}
	}

	return Uncertain
}

// ConflictResolution refines a Conflict verdict for the caller (coordinator
// Planning / transfer execution) into what concrete steps to take, per
// spec §4.8.6 and the literal scenario 3/6 narration in §8: a
// deletion-vs-modification conflict never materializes a conflict
// artifact ("the surviving file is the answer"), only a genuine
// both-Exists divergence does.
type ConflictResolution int

const (
	// ArtifactBothExist: both sides have a live, divergent file. Fetch
	// the remote's version and write it locally as a conflict artifact;
	// the local live file is left untouched.
	ArtifactBothExist ConflictResolution = iota
	// AdoptRemoteNoArtifact: local is tombstoned, remote is Exists,
	// concurrently with the deletion. Download the remote file, clear
	// the local tombstone, write no conflict artifact.
	AdoptRemoteNoArtifact
	// KeepLocalNoArtifact: local is Exists, remote is tombstoned,
	// concurrently with the local edit. Nothing to transfer on this
	// side; the peer's own run (its local is our remote) is the one
	// that performs AdoptRemoteNoArtifact.
	KeepLocalNoArtifact
)

// ResolveConflict is only meaningful when Decide(local, remote) == Conflict.
// It exists as a separate pure function, rather than folding its logic
// into Decide, so Decide's existing Action enum and tests stay exactly
// as specified by §4.8 while callers that need the finer distinction
// (only the conflict-handling path does) can ask for it explicitly.
func ResolveConflict(local, remote syncmodel.FileState) ConflictResolution {
	if local.IsDeleted() && remote.IsExists() {
		return AdoptRemoteNoArtifact
	}
	if local.IsExists() && remote.IsDeleted() {
		return KeepLocalNoArtifact
	}
	return ArtifactBothExist
}

// deletionVsModification implements rule 6: tombstoneVC belongs to the
// Deleted side, liveVC to the Exists side. deleteAction is returned when
// the tombstone wins (apply delete on the Exists side); keepAction is
// returned when the live file wins (Download or Upload, symmetrically,
// to push the live file onto the side that currently has the tombstone).
func deletionVsModification(tombstoneVC, liveVC vectorclock.Clock, deleteAction, keepAction Action) Action {
	switch tombstoneVC.Compare(liveVC) {
	case vectorclock.Successor:
		// t.vc > m.vc
		return deleteAction
	case vectorclock.Antecedent:
		// m.vc > t.vc
		return keepAction
	case vectorclock.Equal:
		// t.vc == m.vc: apply delete, conservative (see DESIGN.md).
		return deleteAction
	default:
		// concurrent
		return Conflict
	}
}
