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
	"bytes"
	"sort"

	"github.com/calmh/xdr"

	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/vectorclock"
)

// --- shared field codecs -----------------------------------------------

func writeVC(xw *xdr.Writer, vc vectorclock.Clock) {
	peers := make([]string, 0, len(vc))
	for p := range vc {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	xw.WriteUint32(uint32(len(peers)))
	for _, p := range peers {
		xw.WriteString(p)
		xw.WriteUint64(vc[p])
	}
}

func readVC(xr *xdr.Reader) vectorclock.Clock {
	n := xr.ReadUint32()
	vc := vectorclock.New()
	for i := uint32(0); i < n; i++ {
		p := xr.ReadString()
		c := xr.ReadUint64()
		vc[p] = c
	}
	return vc
}

func writeHash(xw *xdr.Writer, h [32]byte) {
	xw.WriteBytes(h[:])
}

func readHash(xr *xdr.Reader) [32]byte {
	var h [32]byte
	copy(h[:], xr.ReadBytes())
	return h
}

func writeMetadata(xw *xdr.Writer, m syncmodel.FileMetadata) {
	writeHash(xw, m.ContentHash)
	xw.WriteUint64(uint64(m.ModTime))
	xw.WriteUint64(uint64(m.Size))
	writeVC(xw, m.VC)
}

func readMetadata(xr *xdr.Reader) syncmodel.FileMetadata {
	return syncmodel.FileMetadata{
		ContentHash: readHash(xr),
		ModTime:     int64(xr.ReadUint64()),
		Size:        int64(xr.ReadUint64()),
		VC:          readVC(xr),
	}
}

func writeDeletion(xw *xdr.Writer, d syncmodel.DeletionRecord) {
	xw.WriteUint64(uint64(d.DeletedAt))
	xw.WriteString(string(d.DeletedBy))
	writeVC(xw, d.VC)
}

func readDeletion(xr *xdr.Reader) syncmodel.DeletionRecord {
	return syncmodel.DeletionRecord{
		DeletedAt: int64(xr.ReadUint64()),
		DeletedBy: syncmodel.PeerID(xr.ReadString()),
		VC:        readVC(xr),
	}
}

func writeFileState(xw *xdr.Writer, s syncmodel.FileState) {
	if m, ok := s.Metadata(); ok {
		xw.WriteUint16(1)
		writeMetadata(xw, m)
		return
	}
	if d, ok := s.Tombstone(); ok {
		xw.WriteUint16(2)
		writeDeletion(xw, d)
		return
	}
	xw.WriteUint16(0)
}

func readFileState(xr *xdr.Reader) syncmodel.FileState {
	switch xr.ReadUint16() {
	case 1:
		return syncmodel.NewExists(readMetadata(xr))
	case 2:
		return syncmodel.NewDeleted(readDeletion(xr))
	default:
		return syncmodel.Absent
	}
}

func writeHashes(xw *xdr.Writer, hs [][32]byte) {
	xw.WriteUint32(uint32(len(hs)))
	for _, h := range hs {
		writeHash(xw, h)
	}
}

func readHashes(xr *xdr.Reader) [][32]byte {
	n := xr.ReadUint32()
	out := make([][32]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, readHash(xr))
	}
	return out
}

// --- SyncRequest messages ------------------------------------------------

type GetMST struct {
	SyncID string
}

func (m GetMST) encodeXDR(xw *xdr.Writer) { xw.WriteString(m.SyncID) }
func (m *GetMST) decodeXDR(xr *xdr.Reader) { m.SyncID = xr.ReadString() }

type GetFiles struct {
	SyncID string
}

func (m GetFiles) encodeXDR(xw *xdr.Writer)  { xw.WriteString(m.SyncID) }
func (m *GetFiles) decodeXDR(xr *xdr.Reader) { m.SyncID = xr.ReadString() }

type GetFileData struct {
	SyncID string
	Path   string
}

func (m GetFileData) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteString(m.Path)
}
func (m *GetFileData) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Path = xr.ReadString()
}

type PutFileData struct {
	SyncID string
	Path   string
	Data   []byte
	VC     vectorclock.Clock
}

func (m PutFileData) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteString(m.Path)
	xw.WriteBytes(m.Data)
	writeVC(xw, m.VC)
}
func (m *PutFileData) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Path = xr.ReadString()
	m.Data = xr.ReadBytes()
	m.VC = readVC(xr)
}

type DeleteFiles struct {
	SyncID string
	Paths  []string
}

func (m DeleteFiles) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteUint32(uint32(len(m.Paths)))
	for _, p := range m.Paths {
		xw.WriteString(p)
	}
}
func (m *DeleteFiles) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	n := xr.ReadUint32()
	m.Paths = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		m.Paths = append(m.Paths, xr.ReadString())
	}
}

type GetFileChunks struct {
	SyncID string
	Path   string
}

func (m GetFileChunks) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteString(m.Path)
}
func (m *GetFileChunks) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Path = xr.ReadString()
}

type GetChunkData struct {
	SyncID string
	Hash   [32]byte
}

func (m GetChunkData) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	writeHash(xw, m.Hash)
}
func (m *GetChunkData) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Hash = readHash(xr)
}

type PutFileChunks struct {
	SyncID string
	Path   string
	Hashes [][32]byte
	VC     vectorclock.Clock
}

func (m PutFileChunks) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteString(m.Path)
	writeHashes(xw, m.Hashes)
	writeVC(xw, m.VC)
}
func (m *PutFileChunks) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Path = xr.ReadString()
	m.Hashes = readHashes(xr)
	m.VC = readVC(xr)
}

type PutChunkData struct {
	SyncID string
	Hash   [32]byte
	Data   []byte
}

func (m PutChunkData) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	writeHash(xw, m.Hash)
	xw.WriteBytes(m.Data)
}
func (m *PutChunkData) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Hash = readHash(xr)
	m.Data = xr.ReadBytes()
}

// --- SyncResponse messages -----------------------------------------------

type MstRoot struct {
	SyncID string
	Digest []byte // empty means "no summary" (unknown folder or empty tree)
}

func (m MstRoot) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteBytes(m.Digest)
}
func (m *MstRoot) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Digest = xr.ReadBytes()
}

// Files is the legacy response: live metadata plus a separate deleted-path
// list, kept for servers that still speak the pre-FilesV2 encoding.
type Files struct {
	SyncID       string
	Files        map[string]syncmodel.FileMetadata
	DeletedPaths []string
}

func (m Files) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	paths := sortedKeys(m.Files)
	xw.WriteUint32(uint32(len(paths)))
	for _, p := range paths {
		xw.WriteString(p)
		writeMetadata(xw, m.Files[p])
	}
	xw.WriteUint32(uint32(len(m.DeletedPaths)))
	for _, p := range m.DeletedPaths {
		xw.WriteString(p)
	}
}
func (m *Files) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	n := xr.ReadUint32()
	m.Files = make(map[string]syncmodel.FileMetadata, n)
	for i := uint32(0); i < n; i++ {
		p := xr.ReadString()
		m.Files[p] = readMetadata(xr)
	}
	dn := xr.ReadUint32()
	m.DeletedPaths = make([]string, 0, dn)
	for i := uint32(0); i < dn; i++ {
		m.DeletedPaths = append(m.DeletedPaths, xr.ReadString())
	}
}

// FilesV2 is the unified-state encoding: every path maps to an explicit
// FileState (Exists or Deleted), servers should prefer emitting this.
type FilesV2 struct {
	SyncID string
	States map[string]syncmodel.FileState
}

func (m FilesV2) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	paths := make([]string, 0, len(m.States))
	for p := range m.States {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	xw.WriteUint32(uint32(len(paths)))
	for _, p := range paths {
		xw.WriteString(p)
		writeFileState(xw, m.States[p])
	}
}
func (m *FilesV2) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	n := xr.ReadUint32()
	m.States = make(map[string]syncmodel.FileState, n)
	for i := uint32(0); i < n; i++ {
		p := xr.ReadString()
		m.States[p] = readFileState(xr)
	}
}

type FileData struct {
	SyncID string
	Path   string
	Data   []byte
}

func (m FileData) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteString(m.Path)
	xw.WriteBytes(m.Data)
}
func (m *FileData) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Path = xr.ReadString()
	m.Data = xr.ReadBytes()
}

type PutAck struct {
	SyncID string
	Path   string
}

func (m PutAck) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteString(m.Path)
}
func (m *PutAck) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Path = xr.ReadString()
}

type DeleteAck struct {
	SyncID string
}

func (m DeleteAck) encodeXDR(xw *xdr.Writer)  { xw.WriteString(m.SyncID) }
func (m *DeleteAck) decodeXDR(xr *xdr.Reader) { m.SyncID = xr.ReadString() }

type FileChunks struct {
	SyncID string
	Path   string
	Hashes [][32]byte
}

func (m FileChunks) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteString(m.Path)
	writeHashes(xw, m.Hashes)
}
func (m *FileChunks) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Path = xr.ReadString()
	m.Hashes = readHashes(xr)
}

type ChunkData struct {
	SyncID string
	Hash   [32]byte
	Data   []byte
}

func (m ChunkData) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	writeHash(xw, m.Hash)
	xw.WriteBytes(m.Data)
}
func (m *ChunkData) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Hash = readHash(xr)
	m.Data = xr.ReadBytes()
}

type FileChunksAck struct {
	SyncID string
	Path   string
	// MissingHashes is non-empty when the server could not rebuild the
	// file from what it already had in BlockStore.
	MissingHashes [][32]byte
}

func (m FileChunksAck) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	xw.WriteString(m.Path)
	writeHashes(xw, m.MissingHashes)
}
func (m *FileChunksAck) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Path = xr.ReadString()
	m.MissingHashes = readHashes(xr)
}

type ChunkAck struct {
	SyncID string
	Hash   [32]byte
}

func (m ChunkAck) encodeXDR(xw *xdr.Writer) {
	xw.WriteString(m.SyncID)
	writeHash(xw, m.Hash)
}
func (m *ChunkAck) decodeXDR(xr *xdr.Reader) {
	m.SyncID = xr.ReadString()
	m.Hash = readHash(xr)
}

// FolderNotFoundText is the exact error text a Handler returns for a
// sync_id it doesn't serve. A Handler error only survives the wire as
// plain text (see ErrorMessage), so callers match on this string rather
// than a typed sentinel, per the "folder not found" wording of spec
// §4.11's discovery step and §7's peer-absent classification.
const FolderNotFoundText = "folder not found"

type ErrorMessage struct {
	Text string
}

func (m ErrorMessage) encodeXDR(xw *xdr.Writer)  { xw.WriteString(m.Text) }
func (m *ErrorMessage) decodeXDR(xr *xdr.Reader) { m.Text = xr.ReadString() }

func sortedKeys(m map[string]syncmodel.FileMetadata) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encoder/decoder are satisfied by every message type above; conn.go's
// frame writer/reader uses them to marshal a payload generically.

type encoder interface {
	encodeXDR(*xdr.Writer)
}

type decoder interface {
	decodeXDR(*xdr.Reader)
}

func marshalMessage(m encoder) ([]byte, error) {
	var buf bytes.Buffer
	xw := xdr.NewWriter(&buf)
	m.encodeXDR(xw)
	return buf.Bytes(), xw.Error()
}

func unmarshalMessage(bs []byte, m decoder) error {
	xr := xdr.NewReader(bytes.NewReader(bs))
	m.decodeXDR(xr)
	return xr.Error()
}
