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

package syncproto

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/vectorclock"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := header{version: protocolVersion, msgID: 1234, msgType: int(typePutFileChunks), compression: true}
	got := decodeHeader(encodeHeader(h))
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	vc := vectorclock.New().Increment("a").Increment("b")
	req := PutFileChunks{
		SyncID: "folder1",
		Path:   "dir/file.txt",
		Hashes: [][32]byte{{1}, {2}, {3}},
		VC:     vc,
	}
	bs, err := marshalMessage(req)
	if err != nil {
		t.Fatal(err)
	}
	var got PutFileChunks
	if err := unmarshalMessage(bs, &got); err != nil {
		t.Fatal(err)
	}
	if got.SyncID != req.SyncID || got.Path != req.Path || len(got.Hashes) != 3 {
		t.Fatalf("got %+v, want %+v", got, req)
	}
	if got.VC["a"] != 1 || got.VC["b"] != 1 {
		t.Fatalf("vc not preserved: %v", got.VC)
	}
}

func TestFileStateRoundTripViaFilesV2(t *testing.T) {
	msg := FilesV2{
		SyncID: "f1",
		States: map[string]syncmodel.FileState{
			"live.txt": syncmodel.NewExists(syncmodel.FileMetadata{ContentHash: [32]byte{9}, Size: 42}),
			"gone.txt": syncmodel.NewDeleted(syncmodel.DeletionRecord{DeletedBy: "peerA"}),
		},
	}
	bs, err := marshalMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	var got FilesV2
	if err := unmarshalMessage(bs, &got); err != nil {
		t.Fatal(err)
	}
	live, ok := got.States["live.txt"].Metadata()
	if !ok || live.Size != 42 {
		t.Fatalf("live.txt not round-tripped: %+v", got.States["live.txt"])
	}
	deleted, ok := got.States["gone.txt"].Tombstone()
	if !ok || deleted.DeletedBy != "peerA" {
		t.Fatalf("gone.txt not round-tripped: %+v", got.States["gone.txt"])
	}
}

type fakeHandler struct {
	root []byte
}

func (f *fakeHandler) GetMST(req GetMST) (MstRoot, error) {
	return MstRoot{SyncID: req.SyncID, Digest: f.root}, nil
}
func (f *fakeHandler) GetFiles(req GetFiles) (FilesV2, error) {
	return FilesV2{SyncID: req.SyncID, States: map[string]syncmodel.FileState{}}, nil
}
func (f *fakeHandler) GetFileData(req GetFileData) (FileData, error) {
	if req.Path == "missing.txt" {
		return FileData{}, errors.New("not found")
	}
	return FileData{SyncID: req.SyncID, Path: req.Path, Data: []byte("contents")}, nil
}
func (f *fakeHandler) PutFileData(req PutFileData) (PutAck, error) {
	return PutAck{SyncID: req.SyncID, Path: req.Path}, nil
}
func (f *fakeHandler) DeleteFiles(req DeleteFiles) (DeleteAck, error) {
	return DeleteAck{SyncID: req.SyncID}, nil
}
func (f *fakeHandler) GetFileChunks(req GetFileChunks) (FileChunks, error) {
	return FileChunks{SyncID: req.SyncID, Path: req.Path}, nil
}
func (f *fakeHandler) GetChunkData(req GetChunkData) (ChunkData, error) {
	return ChunkData{SyncID: req.SyncID, Hash: req.Hash, Data: []byte("chunk")}, nil
}
func (f *fakeHandler) PutFileChunks(req PutFileChunks) (FileChunksAck, error) {
	return FileChunksAck{SyncID: req.SyncID, Path: req.Path}, nil
}
func (f *fakeHandler) PutChunkData(req PutChunkData) (ChunkAck, error) {
	return ChunkAck{SyncID: req.SyncID, Hash: req.Hash}, nil
}

func newTestConnPair(t *testing.T, handler Handler) (*Conn, *Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	client := NewConn(clientSide, nil)
	server := NewConn(serverSide, handler)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestConnGetMST(t *testing.T) {
	client, _ := newTestConnPair(t, &fakeHandler{root: []byte{1, 2, 3}})
	resp, err := client.GetMST(GetMST{SyncID: "folder1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SyncID != "folder1" || len(resp.Digest) != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestConnGetFileDataError(t *testing.T) {
	client, _ := newTestConnPair(t, &fakeHandler{})
	_, err := client.GetFileData(GetFileData{SyncID: "f1", Path: "missing.txt"})
	if err == nil {
		t.Fatal("expected error for missing.txt")
	}
}

func TestConnLargePayloadCompressed(t *testing.T) {
	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i)
	}
	client, _ := newTestConnPair(t, &fakeHandler{})
	ack, err := client.PutFileData(PutFileData{SyncID: "f1", Path: "big.bin", Data: big, VC: vectorclock.New()})
	if err != nil {
		t.Fatal(err)
	}
	if ack.Path != "big.bin" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestConnWithoutHandlerReturnsError(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	client := NewConn(clientSide, nil)
	server := NewConn(serverSide, nil) // no handler: will respond with an Error frame

	done := make(chan error, 1)
	go func() {
		_, err := client.GetMST(GetMST{SyncID: "f1"})
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error response from a handler-less server")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
	server.Close()
	client.Close()
}

func TestSynthesizeFilesV2(t *testing.T) {
	legacy := Files{
		SyncID:       "f1",
		Files:        map[string]syncmodel.FileMetadata{"a.txt": {Size: 10}},
		DeletedPaths: []string{"b.txt"},
	}
	v2 := synthesizeFilesV2(legacy)
	if _, ok := v2.States["a.txt"].Metadata(); !ok {
		t.Error("expected a.txt to be Exists")
	}
	if _, ok := v2.States["b.txt"].Tombstone(); !ok {
		t.Error("expected b.txt to be synthesized as Deleted")
	}
}
