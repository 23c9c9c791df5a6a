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

package server

import (
	"crypto/sha256"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/calmh/peersync/internal/blockstore"
	"github.com/calmh/peersync/internal/cooldown"
	"github.com/calmh/peersync/internal/fsutil"
	"github.com/calmh/peersync/internal/merkle"
	"github.com/calmh/peersync/internal/statestore"
	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/syncproto"
	"github.com/calmh/peersync/internal/vectorclock"
)

func newTestFolder(t *testing.T, syncID string) *Folder {
	t.Helper()
	root := t.TempDir()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	blocks, err := blockstore.Open(filepath.Join(t.TempDir(), "blocks"), 0)
	if err != nil {
		t.Fatal(err)
	}
	return &Folder{
		SyncID:   syncID,
		FS:       fsutil.New(root),
		Store:    store,
		Blocks:   blocks,
		MyPeerID: "peerB",
		Cooldown: cooldown.New(),
	}
}

func newTestPair(t *testing.T, h *RequestHandler) *syncproto.Conn {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	client := syncproto.NewConn(clientSide, nil)
	srv := syncproto.NewConn(serverSide, h)
	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return client
}

func TestGetMSTUnknownFolder(t *testing.T) {
	h := New()
	client := newTestPair(t, h)
	_, err := client.GetMST(syncproto.GetMST{SyncID: "nope"})
	if err == nil {
		t.Fatal("expected an error for an unregistered sync id")
	}
}

func TestPutThenGetFileData(t *testing.T) {
	h := New()
	f := newTestFolder(t, "f1")
	h.Register(f)
	client := newTestPair(t, h)

	ack, err := client.PutFileData(syncproto.PutFileData{
		SyncID: "f1",
		Path:   "a.txt",
		Data:   []byte("hello"),
		VC:     vectorclock.New().Increment("peerA"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if ack.Path != "a.txt" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	got, err := client.GetFileData(syncproto.GetFileData{SyncID: "f1", Path: "a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "hello" {
		t.Fatalf("got %q, want %q", got.Data, "hello")
	}

	st, err := f.Store.Get("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	meta, ok := st.Metadata()
	if !ok {
		t.Fatal("expected a.txt to be recorded as Exists")
	}
	if meta.VC["peerA"] != 1 {
		t.Fatalf("expected sender's vc to be merged in, got %v", meta.VC)
	}
}

func TestPutFileDataMarksSyncWriteCooldown(t *testing.T) {
	h := New()
	f := newTestFolder(t, "f1")
	h.Register(f)
	client := newTestPair(t, h)

	if _, err := client.PutFileData(syncproto.PutFileData{SyncID: "f1", Path: "a.txt", Data: []byte("x"), VC: vectorclock.New()}); err != nil {
		t.Fatal(err)
	}
	if !f.Cooldown.Active("f1\x00a.txt", syncWriteCooldown) {
		t.Fatal("expected the written path to be marked in the sync-write cooldown table")
	}
}

func TestDeleteFilesRemovesAndTombstones(t *testing.T) {
	h := New()
	f := newTestFolder(t, "f1")
	h.Register(f)
	client := newTestPair(t, h)

	if _, err := client.PutFileData(syncproto.PutFileData{SyncID: "f1", Path: "a.txt", Data: []byte("x"), VC: vectorclock.New()}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.DeleteFiles(syncproto.DeleteFiles{SyncID: "f1", Paths: []string{"a.txt"}}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.FS.ReadFile("a.txt"); err == nil || !os.IsNotExist(err) {
		t.Fatalf("expected a.txt to be removed from disk, got err=%v", err)
	}
	st, err := f.Store.Get("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.Tombstone(); !ok {
		t.Fatal("expected a.txt to be tombstoned")
	}
}

func TestChunkedRoundTripViaMissingHashes(t *testing.T) {
	h := New()
	f := newTestFolder(t, "f1")
	h.Register(f)
	client := newTestPair(t, h)

	h1 := [32]byte{1}
	h2 := [32]byte{2}

	ack, err := client.PutFileChunks(syncproto.PutFileChunks{SyncID: "f1", Path: "big.bin", Hashes: [][32]byte{h1, h2}, VC: vectorclock.New()})
	if err != nil {
		t.Fatal(err)
	}
	if len(ack.MissingHashes) != 2 {
		t.Fatalf("expected both chunks reported missing, got %v", ack.MissingHashes)
	}

	data1 := []byte("chunk-one")
	realHash1 := shaOf(data1)
	if _, err := client.PutChunkData(syncproto.PutChunkData{SyncID: "f1", Hash: realHash1, Data: data1}); err != nil {
		t.Fatal(err)
	}
	data2 := []byte("chunk-two")
	realHash2 := shaOf(data2)
	if _, err := client.PutChunkData(syncproto.PutChunkData{SyncID: "f1", Hash: realHash2, Data: data2}); err != nil {
		t.Fatal(err)
	}

	ack, err = client.PutFileChunks(syncproto.PutFileChunks{SyncID: "f1", Path: "big.bin", Hashes: [][32]byte{realHash1, realHash2}, VC: vectorclock.New()})
	if err != nil {
		t.Fatal(err)
	}
	if len(ack.MissingHashes) != 0 {
		t.Fatalf("expected no missing hashes on the second declaration, got %v", ack.MissingHashes)
	}

	got, err := f.FS.ReadFile("big.bin")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "chunk-onechunk-two" {
		t.Fatalf("unexpected reassembled content: %q", got)
	}
}

func TestGetFileChunksPopulatesBlockstore(t *testing.T) {
	h := New()
	f := newTestFolder(t, "f1")
	h.Register(f)
	client := newTestPair(t, h)

	if _, err := client.PutFileData(syncproto.PutFileData{SyncID: "f1", Path: "a.txt", Data: []byte("hello world"), VC: vectorclock.New()}); err != nil {
		t.Fatal(err)
	}
	chunks, err := client.GetFileChunks(syncproto.GetFileChunks{SyncID: "f1", Path: "a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks.Hashes) == 0 {
		t.Fatal("expected at least one chunk hash")
	}
	if _, err := client.GetChunkData(syncproto.GetChunkData{SyncID: "f1", Hash: chunks.Hashes[0]}); err != nil {
		t.Fatalf("expected the chunk to already be in the blockstore: %v", err)
	}
}

func TestGetFilesReportsExistsAndDeleted(t *testing.T) {
	h := New()
	f := newTestFolder(t, "f1")
	h.Register(f)
	client := newTestPair(t, h)

	if _, err := client.PutFileData(syncproto.PutFileData{SyncID: "f1", Path: "a.txt", Data: []byte("x"), VC: vectorclock.New()}); err != nil {
		t.Fatal(err)
	}
	if err := f.Store.SetDeleted("gone.txt", syncmodel.DeletionRecord{}); err != nil {
		t.Fatal(err)
	}

	resp, err := client.GetFiles(syncproto.GetFiles{SyncID: "f1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.States["a.txt"].Metadata(); !ok {
		t.Error("expected a.txt to be Exists")
	}
	if _, ok := resp.States["gone.txt"].Tombstone(); !ok {
		t.Error("expected gone.txt to be Deleted")
	}
}

func TestGetMSTReflectsSummary(t *testing.T) {
	h := New()
	f := newTestFolder(t, "f1")
	f.Summary = func() merkle.Digest {
		var out [32]byte
		out[0] = 7
		return &out
	}
	h.Register(f)
	client := newTestPair(t, h)

	resp, err := client.GetMST(syncproto.GetMST{SyncID: "f1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Digest) != 32 || resp.Digest[0] != 7 {
		t.Fatalf("unexpected digest: %v", resp.Digest)
	}
}

func shaOf(b []byte) [32]byte {
	return sha256.Sum256(b)
}
