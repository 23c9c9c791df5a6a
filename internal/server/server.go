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

// Package server implements syncproto.Handler: the inbound side of the
// request/response protocol of spec §6, answering a peer's GetMST/
// GetFiles/GetFileData/PutFileData/DeleteFiles/GetFileChunks/
// GetChunkData/PutFileChunks/PutChunkData calls against this process's
// own folder state. It mirrors the teacher's internal/model.model dispatch
// shape (a registry keyed by folder/sync id, looked up per request,
// internal/model/model.go's m.folderFiles[folder] pattern) rather than a
// per-connection handler bound to a single folder, since one Conn may be
// asked about any sync id the peer shares.
package server

import (
	"crypto/sha256"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/calmh/peersync/internal/blockstore"
	"github.com/calmh/peersync/internal/chunker"
	"github.com/calmh/peersync/internal/cooldown"
	"github.com/calmh/peersync/internal/fsutil"
	"github.com/calmh/peersync/internal/logger"
	"github.com/calmh/peersync/internal/merkle"
	"github.com/calmh/peersync/internal/statestore"
	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/syncproto"
	"github.com/calmh/peersync/internal/timeutil"
	"github.com/calmh/peersync/internal/vectorclock"
)

var (
	debug = strings.Contains(os.Getenv("STTRACE"), "server") || os.Getenv("STTRACE") == "all"
	l     = logger.DefaultLogger
)

// SyncWriteCooldown is sync_write_cooldown, per spec §6's tunables
// table. Exported so internal/watcher can recognize the same window
// when filtering its own echoes out of the file system event stream.
const SyncWriteCooldown = 5 * time.Second

// syncWriteCooldown is an unexported alias of SyncWriteCooldown, used by
// this package's tests.
const syncWriteCooldown = SyncWriteCooldown

// Folder is everything the RequestHandler needs to answer requests for
// one sync id: its filesystem root, its persisted state, the shared
// content-addressed blob cache, and a way to ask the current summary
// root without recomputing it on every GetMST (the coordinator owns the
// live scanner.Result and refreshes Summary after each LocalState
// phase).
type Folder struct {
	SyncID   string
	FS       *fsutil.FS
	Store    *statestore.Store
	Blocks   *blockstore.Store
	MyPeerID string

	// Summary returns the current Merkle root, or nil for an empty
	// folder. Set by whatever keeps LocalState current (the coordinator
	// after each scan); nil means "always report not-yet-scanned" and
	// GetMST will answer with an empty digest rather than panicking.
	Summary func() merkle.Digest

	// Cooldown is the sync-write cooldown table of spec §4.5 invariant 5,
	// shared with the WatcherBridge watching this same folder root so it
	// can suppress the event its own write just generated.
	Cooldown *cooldown.Table
}

// RequestHandler answers syncproto requests against a set of locally
// served folders. The zero value has no folders registered; use
// Register to add one before handing the handler to syncproto.NewConn.
type RequestHandler struct {
	mut     sync.RWMutex
	folders map[string]*Folder
	clock   timeutil.Clock
}

// New returns an empty RequestHandler.
func New() *RequestHandler {
	return &RequestHandler{folders: make(map[string]*Folder), clock: timeutil.SystemClock{}}
}

// Register adds or replaces the Folder served under f.SyncID.
func (h *RequestHandler) Register(f *Folder) {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.folders[f.SyncID] = f
}

// Unregister stops serving syncID.
func (h *RequestHandler) Unregister(syncID string) {
	h.mut.Lock()
	defer h.mut.Unlock()
	delete(h.folders, syncID)
}

func (h *RequestHandler) folder(syncID string) (*Folder, bool) {
	h.mut.RLock()
	defer h.mut.RUnlock()
	f, ok := h.folders[syncID]
	return f, ok
}

func (h *RequestHandler) now() int64 {
	return h.clock.Now().UnixNano()
}

var _ syncproto.Handler = (*RequestHandler)(nil)

func (h *RequestHandler) GetMST(req syncproto.GetMST) (syncproto.MstRoot, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.MstRoot{}, errors.New(syncproto.FolderNotFoundText)
	}
	var digest merkle.Digest
	if f.Summary != nil {
		digest = f.Summary()
	}
	resp := syncproto.MstRoot{SyncID: req.SyncID}
	if digest != nil {
		resp.Digest = append([]byte(nil), digest[:]...)
	}
	return resp, nil
}

func (h *RequestHandler) GetFiles(req syncproto.GetFiles) (syncproto.FilesV2, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.FilesV2{}, errors.New(syncproto.FolderNotFoundText)
	}
	paths, err := f.Store.AllPaths()
	if err != nil {
		return syncproto.FilesV2{}, err
	}
	states := make(map[string]syncmodel.FileState, len(paths))
	for _, p := range paths {
		st, err := f.Store.Get(p)
		if err != nil {
			return syncproto.FilesV2{}, err
		}
		states[p] = st
	}
	return syncproto.FilesV2{SyncID: req.SyncID, States: states}, nil
}

func (h *RequestHandler) GetFileData(req syncproto.GetFileData) (syncproto.FileData, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.FileData{}, errors.New(syncproto.FolderNotFoundText)
	}
	data, err := f.FS.ReadFile(req.Path)
	if err != nil {
		return syncproto.FileData{}, err
	}
	return syncproto.FileData{SyncID: req.SyncID, Path: req.Path, Data: data}, nil
}

// PutFileData applies an inbound whole-file write atomically, marking
// the sync-write cooldown before the write per spec §4.9, and merges
// the sender's vector clock with whatever this peer already has for the
// path before persisting.
func (h *RequestHandler) PutFileData(req syncproto.PutFileData) (syncproto.PutAck, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.PutAck{}, errors.New(syncproto.FolderNotFoundText)
	}

	cooldownKey := req.SyncID + "\x00" + req.Path
	f.Cooldown.Mark(cooldownKey)

	if err := f.FS.WriteAtomic(req.Path, req.Data, 0o644); err != nil {
		return syncproto.PutAck{}, err
	}

	merged, err := h.mergedVC(f, req.Path, req.VC)
	if err != nil {
		return syncproto.PutAck{}, err
	}
	meta := syncmodel.FileMetadata{
		ContentHash: sha256.Sum256(req.Data),
		ModTime:     h.now(),
		Size:        int64(len(req.Data)),
		VC:          merged,
	}
	if err := f.Store.SetExists(req.Path, meta); err != nil {
		return syncproto.PutAck{}, err
	}
	if debug {
		l.Debugf("server: applied PutFileData %q (%d bytes)", req.Path, len(req.Data))
	}
	return syncproto.PutAck{SyncID: req.SyncID, Path: req.Path}, nil
}

func (h *RequestHandler) DeleteFiles(req syncproto.DeleteFiles) (syncproto.DeleteAck, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.DeleteAck{}, errors.New(syncproto.FolderNotFoundText)
	}
	for _, p := range req.Paths {
		cooldownKey := req.SyncID + "\x00" + p
		f.Cooldown.Mark(cooldownKey)

		existing, err := f.Store.Get(p)
		if err != nil {
			return syncproto.DeleteAck{}, err
		}
		vc := vectorclock.New()
		if m, ok := existing.Metadata(); ok {
			vc = m.VC
		} else if t, ok := existing.Tombstone(); ok {
			vc = t.VC
		}
		vc = vc.Increment(f.MyPeerID)

		if err := f.FS.Remove(p); err != nil {
			return syncproto.DeleteAck{}, err
		}
		rec := syncmodel.DeletionRecord{DeletedAt: h.now(), DeletedBy: syncmodel.PeerID(f.MyPeerID), VC: vc}
		if err := f.Store.SetDeleted(p, rec); err != nil {
			return syncproto.DeleteAck{}, err
		}
	}
	if debug {
		l.Debugf("server: applied DeleteFiles %v", req.Paths)
	}
	return syncproto.DeleteAck{SyncID: req.SyncID}, nil
}

// GetFileChunks answers with the FastCDC chunk hashes covering the
// current on-disk content of path, storing each chunk into the shared
// BlockStore as it goes so a subsequent GetChunkData from any peer can
// be served without re-reading the file.
func (h *RequestHandler) GetFileChunks(req syncproto.GetFileChunks) (syncproto.FileChunks, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.FileChunks{}, errors.New(syncproto.FolderNotFoundText)
	}
	data, err := f.FS.ReadFile(req.Path)
	if err != nil {
		return syncproto.FileChunks{}, err
	}
	chunks := chunker.ChunkBytes(data)
	hashes := make([][32]byte, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.Hash
		if err := f.Blocks.Put(c.Hash, c.Data); err != nil {
			return syncproto.FileChunks{}, err
		}
	}
	return syncproto.FileChunks{SyncID: req.SyncID, Path: req.Path, Hashes: hashes}, nil
}

func (h *RequestHandler) GetChunkData(req syncproto.GetChunkData) (syncproto.ChunkData, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.ChunkData{}, errors.New(syncproto.FolderNotFoundText)
	}
	data, err := f.Blocks.Get(req.Hash)
	if err != nil {
		return syncproto.ChunkData{}, err
	}
	return syncproto.ChunkData{SyncID: req.SyncID, Hash: req.Hash, Data: data}, nil
}

// PutFileChunks declares the hash list for an inbound chunked write. If
// every hash is already in the BlockStore the file is reassembled and
// committed atomically right away; otherwise the missing hashes are
// reported back so the sender can push them via PutChunkData before
// re-declaring, per spec §4.10 steps 3-5.
func (h *RequestHandler) PutFileChunks(req syncproto.PutFileChunks) (syncproto.FileChunksAck, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.FileChunksAck{}, errors.New(syncproto.FolderNotFoundText)
	}

	have := f.Blocks.HasMany(req.Hashes)
	var missing [][32]byte
	for _, hh := range req.Hashes {
		if !have[hh] {
			missing = append(missing, hh)
		}
	}
	if len(missing) > 0 {
		return syncproto.FileChunksAck{SyncID: req.SyncID, Path: req.Path, MissingHashes: missing}, nil
	}

	cooldownKey := req.SyncID + "\x00" + req.Path
	f.Cooldown.Mark(cooldownKey)

	var size int64
	var fullHash = sha256.New()
	var buf []byte
	for _, hh := range req.Hashes {
		data, err := f.Blocks.Get(hh)
		if err != nil {
			return syncproto.FileChunksAck{}, err
		}
		buf = append(buf, data...)
		fullHash.Write(data)
		size += int64(len(data))
	}
	if err := f.FS.WriteAtomic(req.Path, buf, 0o644); err != nil {
		return syncproto.FileChunksAck{}, err
	}

	merged, err := h.mergedVC(f, req.Path, req.VC)
	if err != nil {
		return syncproto.FileChunksAck{}, err
	}
	var contentHash [32]byte
	copy(contentHash[:], fullHash.Sum(nil))
	meta := syncmodel.FileMetadata{ContentHash: contentHash, ModTime: h.now(), Size: size, VC: merged}
	if err := f.Store.SetExists(req.Path, meta); err != nil {
		return syncproto.FileChunksAck{}, err
	}
	if debug {
		l.Debugf("server: reassembled %q from %d chunks", req.Path, len(req.Hashes))
	}
	return syncproto.FileChunksAck{SyncID: req.SyncID, Path: req.Path}, nil
}

func (h *RequestHandler) PutChunkData(req syncproto.PutChunkData) (syncproto.ChunkAck, error) {
	f, ok := h.folder(req.SyncID)
	if !ok {
		return syncproto.ChunkAck{}, errors.New(syncproto.FolderNotFoundText)
	}
	if err := f.Blocks.Put(req.Hash, req.Data); err != nil {
		return syncproto.ChunkAck{}, err
	}
	return syncproto.ChunkAck{SyncID: req.SyncID, Hash: req.Hash}, nil
}

// mergedVC merges the sender's vector clock with whatever this peer has
// recorded for path, per §4.9's "merged := merge(local_vc(p),
// incoming_vc)" receive-side rule, so a concurrent local edit racing
// with this inbound write isn't silently clobbered in the causal
// history even though the bytes are.
func (h *RequestHandler) mergedVC(f *Folder, path string, incoming vectorclock.Clock) (vectorclock.Clock, error) {
	existing, err := f.Store.Get(path)
	if err != nil {
		return nil, err
	}
	local := vectorclock.New()
	if m, ok := existing.Metadata(); ok {
		local = m.VC
	} else if t, ok := existing.Tombstone(); ok {
		local = t.VC
	}
	return vectorclock.Merge(local, incoming), nil
}
