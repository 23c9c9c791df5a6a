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

// Package scanner implements the ChangeDetector of spec §4.6: a recursive
// walk of a folder root producing the current FileState map and a
// MerkleSummary root over it. Grounded on internal/scanner/walk.go's
// filepath.Walk-based walker (ignore filtering, NFC normalization,
// directory-skip-on-ignore) generalized from protocol.FileInfo/block
// hashing to FileState/whole-file SHA-256, since spec's MerkleSummary
// keys on (path, content_hash) rather than per-block hashes.
package scanner

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/calmh/peersync/internal/ignore"
	"github.com/calmh/peersync/internal/logger"
	"github.com/calmh/peersync/internal/merkle"
	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/vectorclock"
)

var (
	debug = strings.Contains(os.Getenv("STTRACE"), "scanner") || os.Getenv("STTRACE") == "all"
	l     = logger.DefaultLogger
)

// WriteStabilityDelay is T_stab: a zero-byte file newer than this is
// excluded from state, per spec §4.6.
const WriteStabilityDelay = 3 * time.Second

// yieldEvery is B: the walker yields cooperatively after this many files.
const yieldEvery = 50

// ConflictSuffix matches spec §4.9's conflict artifact naming
// (dir/name.conflict.<peer8>.<unixsec>.ext); any path whose base name
// contains this marker is excluded from state and from subsequent
// reconciliation.
const ConflictSuffix = ".conflict."

// VCLookup supplies the persisted vector clock for a path (or a fresh
// empty one if none exists), satisfied by *statestore.Store in practice.
type VCLookup interface {
	Get(path string) (syncmodel.FileState, error)
}

// Result is the output of one full scan: the live FileState map, the
// Merkle summary root over it, and folder-wide counters.
type Result struct {
	States    map[string]syncmodel.FileState
	Summary   merkle.Digest
	FileCount int
	TotalSize int64
}

// ChangeDetector walks one folder root.
type ChangeDetector struct {
	Root    string
	Ignores *ignore.Matcher
	VCs     VCLookup

	// Yield is called every yieldEvery files to give the caller's
	// scheduler (a suture/v4-supervised goroutine, typically) a chance
	// to observe cancellation. A nil Yield is a no-op.
	Yield func()
}

// ComputeFullState implements §4.6's compute_full_state.
func (c *ChangeDetector) ComputeFullState() (Result, error) {
	res := Result{States: make(map[string]syncmodel.FileState)}
	summary := merkle.New()

	info, err := os.Lstat(c.Root)
	if err != nil {
		return res, err
	}
	if !info.IsDir() {
		return res, &os.PathError{Op: "scan", Path: c.Root, Err: os.ErrInvalid}
	}

	n := 0
	walkErr := filepath.Walk(c.Root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if debug {
				l.Debugf("scanner: walk error %s: %v", p, err)
			}
			return nil
		}

		rel, relErr := filepath.Rel(c.Root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		base := filepath.Base(rel)
		if strings.HasPrefix(base, ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if c.Ignores != nil && c.Ignores.Match(rel) {
			if debug {
				l.Debugf("scanner: ignored %q", rel)
			}
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if strings.Contains(base, ConflictSuffix) {
			return nil
		}

		if (runtime.GOOS == "linux" || runtime.GOOS == "windows") && !norm.NFC.IsNormalString(rel) {
			l.Warnf("scanner: %q contains non-NFC UTF-8 sequences and cannot be synced", rel)
			return nil
		}

		if info.Size() == 0 && time.Since(info.ModTime()) < WriteStabilityDelay {
			if debug {
				l.Debugf("scanner: %q excluded, zero-byte and not yet stable", rel)
			}
			return nil
		}

		hash, hashErr := hashFile(p)
		if hashErr != nil {
			l.Warnf("scanner: hashing %q: %v", rel, hashErr)
			return nil
		}

		vc, vcErr := c.lookupVC(rel)
		if vcErr != nil {
			l.Warnf("scanner: vc lookup %q: %v", rel, vcErr)
		}

		meta := syncmodel.FileMetadata{
			ContentHash: hash,
			ModTime:     info.ModTime().UnixNano(),
			Size:        info.Size(),
			VC:          vc,
		}
		res.States[rel] = syncmodel.NewExists(meta)
		res.FileCount++
		res.TotalSize += meta.Size
		summary.Insert(rel, hash)

		n++
		if n%yieldEvery == 0 && c.Yield != nil {
			c.Yield()
		}
		return nil
	})

	res.Summary = summary.Root()
	return res, walkErr
}

func (c *ChangeDetector) lookupVC(path string) (vectorclock.Clock, error) {
	if c.VCs == nil {
		return vectorclock.New(), nil
	}
	state, err := c.VCs.Get(path)
	if err != nil {
		return vectorclock.New(), err
	}
	if m, ok := state.Metadata(); ok {
		return m.VC, nil
	}
	return vectorclock.New(), nil
}

func hashFile(path string) ([sha256.Size]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [sha256.Size]byte{}, err
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
