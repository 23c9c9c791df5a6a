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

// Package classifier implements the LocalChangeClassifier of spec §4.7:
// given the current scan and what was last recorded, decide which
// disappeared paths were renames (by content-hash match against an
// appeared path) versus genuine local deletions. Pure path-set algebra;
// no corpus library applies here, matching the teacher's small
// dependency-free helpers elsewhere in the sync packages.
package classifier

import "github.com/calmh/peersync/internal/syncmodel"

// Result is the output of one classification pass.
type Result struct {
	// Renamed maps old path to new path for every detected rename.
	Renamed map[string]string
	// LocallyDeleted holds every last-known path that disappeared and
	// was not matched to a rename.
	LocallyDeleted map[string]struct{}
}

// Classify implements §4.7's algorithm. currentStates is this scan's
// live FileState map (Exists entries only matter here); lastKnownPaths
// is the full set of paths recorded as of the previous run;
// lastKnownHash returns the content hash recorded for a last-known path
// (used to match a disappeared path against an appeared one);
// existsOnDisk reports whether a last-known path is still physically
// present, even though the scan excluded it from currentStates (a
// newly-ignored path, or a zero-byte file still inside the write-
// stability window) — per spec.md:85's
// `disappeared := { p ∈ last_known_paths | p ∉ current_paths ∧
// ¬exists_on_disk(p) }`, such a path must not be classified as a local
// deletion.
//
// Per the first-run rule, an empty lastKnownPaths disables both
// deletion and rename detection entirely: every current path is new.
func Classify(currentStates map[string]syncmodel.FileState, lastKnownPaths map[string]struct{}, lastKnownHash func(path string) ([32]byte, bool), existsOnDisk func(path string) bool) Result {
	res := Result{
		Renamed:        make(map[string]string),
		LocallyDeleted: make(map[string]struct{}),
	}

	if len(lastKnownPaths) == 0 {
		return res
	}

	disappeared := make(map[string]struct{})
	for p := range lastKnownPaths {
		if _, ok := currentStates[p]; ok {
			continue
		}
		if existsOnDisk(p) {
			// Still present on disk but excluded from this scan (e.g.
			// newly ignored, or a zero-byte file inside the
			// write-stability window): not a deletion.
			continue
		}
		disappeared[p] = struct{}{}
	}

	appeared := make(map[string]struct{})
	for p := range currentStates {
		if _, known := lastKnownPaths[p]; !known {
			appeared[p] = struct{}{}
		}
	}

	for p := range disappeared {
		oldHash, ok := lastKnownHash(p)
		if !ok {
			continue
		}
		match := ""
		for q := range appeared {
			m, exists := currentStates[q].Metadata()
			if !exists {
				continue
			}
			if m.ContentHash == oldHash {
				match = q
				break
			}
		}
		if match != "" {
			res.Renamed[p] = match
			delete(appeared, match)
			delete(disappeared, p)
		}
	}

	for p := range disappeared {
		res.LocallyDeleted[p] = struct{}{}
	}

	return res
}

// VCMigrator persists a vector clock under a new path key, dropping the
// old one; satisfied by *statestore.Store in practice.
type VCMigrator interface {
	MigratePath(oldPath, newPath string) error
}

// MigrateRenamedVCs walks every detected rename and moves its persisted
// vector-clock entry from the old path key to the new one, per §4.7
// step 5. Errors are collected but do not stop the migration of the
// remaining renames.
func MigrateRenamedVCs(m VCMigrator, renamed map[string]string) []error {
	var errs []error
	for old, new := range renamed {
		if err := m.MigratePath(old, new); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
