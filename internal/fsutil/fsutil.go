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

// Package fsutil is the filesystem façade of spec §1(v): read,
// write-atomically, list, stat, and recursively enumerate a folder
// root, plus a disk-space preflight check. It wraps
// internal/osutil.AtomicWriter (temp file + rename in the same
// directory) for the write side instead of reimplementing atomic
// rename semantics, and internal/scanner's hidden-entry skip for
// enumeration (scanner's NFC check is not repeated here), so callers outside
// the scanner package — chiefly internal/server and internal/transfer —
// get the same filesystem behavior without importing scanner for it.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/calmh/peersync/internal/osutil"
)

// FS is a folder-rooted filesystem façade. The zero value is not usable;
// construct with New.
type FS struct {
	Root string
}

// New returns an FS rooted at root.
func New(root string) *FS {
	return &FS{Root: root}
}

// Abs resolves a slash-separated relative path against the folder root.
func (f *FS) Abs(relPath string) string {
	return filepath.Join(f.Root, filepath.FromSlash(relPath))
}

// ReadFile reads a whole file by its relative path.
func (f *FS) ReadFile(relPath string) ([]byte, error) {
	return os.ReadFile(f.Abs(relPath))
}

// Stat stats a relative path.
func (f *FS) Stat(relPath string) (os.FileInfo, error) {
	return os.Lstat(f.Abs(relPath))
}

// List returns the immediate entries of a relative directory path ("" for
// the folder root).
func (f *FS) List(relDir string) ([]os.DirEntry, error) {
	return os.ReadDir(f.Abs(relDir))
}

// WriteAtomic writes data to relPath via a temp file in the same
// directory followed by a rename, per spec §4.9's atomic-write
// requirement for inbound PUTs. Parent directories are created as
// needed.
func (f *FS) WriteAtomic(relPath string, data []byte, mode os.FileMode) error {
	abs := f.Abs(relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("fsutil: mkdir for %q: %w", relPath, err)
	}
	w, err := osutil.CreateAtomic(abs, mode)
	if err != nil {
		return fmt.Errorf("fsutil: create temp for %q: %w", relPath, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("fsutil: write %q: %w", relPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("fsutil: commit %q: %w", relPath, err)
	}
	return nil
}

// WriteAtomicFrom is like WriteAtomic but streams from r instead of
// holding the whole payload in memory, used by the chunked-transport
// reassembly path (§4.10 step 4) where the file may be far larger than
// any one chunk.
func (f *FS) WriteAtomicFrom(relPath string, r io.Reader, mode os.FileMode) (int64, error) {
	abs := f.Abs(relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("fsutil: mkdir for %q: %w", relPath, err)
	}
	w, err := osutil.CreateAtomic(abs, mode)
	if err != nil {
		return 0, fmt.Errorf("fsutil: create temp for %q: %w", relPath, err)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("fsutil: write %q: %w", relPath, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("fsutil: commit %q: %w", relPath, err)
	}
	return n, nil
}

// Remove deletes a relative path. Missing files are not an error: a
// delete racing with a concurrent delete from another peer's run is
// expected, not exceptional. The containing directory is made
// temporarily writable for the call, since a tombstoned path's parent
// may have had its permissions narrowed by a prior conflict-resolution
// pass.
func (f *FS) Remove(relPath string) error {
	abs := f.Abs(relPath)
	err := osutil.InWritableDir(os.Remove, abs)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// EnumerateRecursive walks the folder root and calls fn for every
// regular file found (directories and non-regular entries are
// skipped), passing a slash-separated path relative to the root.
// Hidden entries (dotfiles/dotdirs) are skipped entirely, matching the
// convention internal/scanner's walker uses — this façade method gives
// a plain path enumeration without scanner's hashing and
// ignore-matching overhead.
func (f *FS) EnumerateRecursive(fn func(relPath string, info os.FileInfo) error) error {
	return filepath.Walk(f.Root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(f.Root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(filepath.Base(rel), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		return fn(rel, info)
	})
}

// FreeBytes reports the bytes available (to an unprivileged user) on the
// volume containing the folder root. The transfer executor does not call
// it; downloads run without a disk-space check.
func (f *FS) FreeBytes() (uint64, error) {
	return freeBytes(f.Root)
}
