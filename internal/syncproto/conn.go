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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/calmh/xdr"
	"github.com/pierrec/lz4/v4"

	"github.com/calmh/peersync/internal/logger"
	"github.com/calmh/peersync/internal/syncmodel"
	"github.com/calmh/peersync/internal/vectorclock"
)

var (
	debug = strings.Contains(os.Getenv("STTRACE"), "syncproto") || os.Getenv("STTRACE") == "all"
	l     = logger.DefaultLogger
)

// compressionThreshold is the payload size above which a frame is lz4
// compressed before being written.
const compressionThreshold = 256

// Handler answers SyncRequest messages arriving on a Conn, mirroring the
// teacher's protocol.Model dispatch interface shape (one method per
// request tag rather than a single generic callback).
type Handler interface {
	GetMST(req GetMST) (MstRoot, error)
	GetFiles(req GetFiles) (FilesV2, error)
	GetFileData(req GetFileData) (FileData, error)
	PutFileData(req PutFileData) (PutAck, error)
	DeleteFiles(req DeleteFiles) (DeleteAck, error)
	GetFileChunks(req GetFileChunks) (FileChunks, error)
	GetChunkData(req GetChunkData) (ChunkData, error)
	PutFileChunks(req PutFileChunks) (FileChunksAck, error)
	PutChunkData(req PutChunkData) (ChunkAck, error)
}

type asyncResult struct {
	msgType msgType
	payload []byte
	err     error
}

// Conn is one peer connection, speaking the framed SyncRequest/
// SyncResponse protocol over an arbitrary byte stream (a net.Conn in
// production, an in-memory pipe in tests). It can act as a client
// (issuing requests via the typed Get*/Put*/Delete* methods), a server
// (dispatching inbound requests to a Handler), or both at once.
type Conn struct {
	rw      io.ReadWriteCloser
	handler Handler

	wmut sync.Mutex

	amut     sync.Mutex
	nextID   int
	awaiting map[int]chan asyncResult

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps rw and starts its reader loop. handler may be nil for a
// connection that only issues requests and never serves them.
func NewConn(rw io.ReadWriteCloser, handler Handler) *Conn {
	c := &Conn{
		rw:       rw,
		handler:  handler,
		awaiting: make(map[int]chan asyncResult),
		closed:   make(chan struct{}),
	}
	go c.readerLoop()
	return c
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.rw.Close()
}

func (c *Conn) readerLoop() {
	defer c.Close()
	for {
		xr := xdr.NewReader(c.rw)
		var h header
		h.decodeXDR(xr)
		payload := xr.ReadBytes()
		if err := xr.Error(); err != nil {
			if debug {
				l.Debugf("syncproto: reader loop exiting: %v", err)
			}
			return
		}

		if h.compression {
			decompressed, err := lz4Decompress(payload)
			if err != nil {
				l.Warnf("syncproto: decompressing frame: %v", err)
				continue
			}
			payload = decompressed
		}

		mt := msgType(h.msgType)
		if isResponseType(mt) {
			c.dispatchResponse(h.msgID, mt, payload)
		} else {
			go c.dispatchRequest(h.msgID, mt, payload)
		}
	}
}

func isResponseType(mt msgType) bool {
	return mt >= typeMstRoot
}

func (c *Conn) dispatchResponse(id int, mt msgType, payload []byte) {
	c.amut.Lock()
	ch, ok := c.awaiting[id]
	c.amut.Unlock()
	if !ok {
		if debug {
			l.Debugf("syncproto: response for unknown id %d", id)
		}
		return
	}
	ch <- asyncResult{msgType: mt, payload: payload}
}

func (c *Conn) dispatchRequest(id int, mt msgType, payload []byte) {
	if c.handler == nil {
		c.respondError(id, errors.New("syncproto: no handler configured"))
		return
	}

	respType, respPayload, err := c.handle(mt, payload)
	if err != nil {
		c.respondError(id, err)
		return
	}
	if err := c.writeFrame(header{version: protocolVersion, msgID: id, msgType: int(respType)}, respPayload); err != nil {
		l.Warnf("syncproto: writing response: %v", err)
	}
}

func (c *Conn) handle(mt msgType, payload []byte) (msgType, []byte, error) {
	switch mt {
	case typeGetMST:
		var req GetMST
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.GetMST(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typeMstRoot, bs, err

	case typeGetFiles:
		var req GetFiles
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.GetFiles(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typeFilesV2, bs, err

	case typeGetFileData:
		var req GetFileData
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.GetFileData(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typeFileData, bs, err

	case typePutFileData:
		var req PutFileData
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.PutFileData(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typePutAck, bs, err

	case typeDeleteFiles:
		var req DeleteFiles
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.DeleteFiles(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typeDeleteAck, bs, err

	case typeGetFileChunks:
		var req GetFileChunks
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.GetFileChunks(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typeFileChunks, bs, err

	case typeGetChunkData:
		var req GetChunkData
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.GetChunkData(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typeChunkData, bs, err

	case typePutFileChunks:
		var req PutFileChunks
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.PutFileChunks(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typeFileChunksAck, bs, err

	case typePutChunkData:
		var req PutChunkData
		if err := unmarshalMessage(payload, &req); err != nil {
			return 0, nil, err
		}
		resp, err := c.handler.PutChunkData(req)
		if err != nil {
			return 0, nil, err
		}
		bs, err := marshalMessage(resp)
		return typeChunkAck, bs, err

	default:
		return 0, nil, fmt.Errorf("syncproto: unknown request type %d", mt)
	}
}

func (c *Conn) respondError(id int, cause error) {
	bs, err := marshalMessage(ErrorMessage{Text: cause.Error()})
	if err != nil {
		return
	}
	if err := c.writeFrame(header{version: protocolVersion, msgID: id, msgType: int(typeError)}, bs); err != nil {
		l.Warnf("syncproto: writing error response: %v", err)
	}
}

func (c *Conn) writeFrame(h header, payload []byte) error {
	if len(payload) > compressionThreshold {
		compressed, err := lz4Compress(payload)
		if err == nil && len(compressed) < len(payload) {
			payload = compressed
			h.compression = true
		}
	}

	c.wmut.Lock()
	defer c.wmut.Unlock()
	xw := xdr.NewWriter(c.rw)
	h.encodeXDR(xw)
	xw.WriteBytes(payload)
	return xw.Error()
}

func (c *Conn) nextMsgID() int {
	c.amut.Lock()
	defer c.amut.Unlock()
	c.nextID = (c.nextID + 1) & 0xfff
	return c.nextID
}

// call sends req tagged reqType and blocks for the matching response (or
// an Error frame, or connection close).
func (c *Conn) call(reqType msgType, req encoder) (msgType, []byte, error) {
	payload, err := marshalMessage(req)
	if err != nil {
		return 0, nil, err
	}

	id := c.nextMsgID()
	ch := make(chan asyncResult, 1)
	c.amut.Lock()
	c.awaiting[id] = ch
	c.amut.Unlock()
	defer func() {
		c.amut.Lock()
		delete(c.awaiting, id)
		c.amut.Unlock()
	}()

	if err := c.writeFrame(header{version: protocolVersion, msgID: id, msgType: int(reqType)}, payload); err != nil {
		return 0, nil, err
	}

	select {
	case res := <-ch:
		return res.msgType, res.payload, res.err
	case <-c.closed:
		return 0, nil, io.ErrClosedPipe
	}
}

func asError(mt msgType, payload []byte) error {
	if mt != typeError {
		return nil
	}
	var em ErrorMessage
	if err := unmarshalMessage(payload, &em); err != nil {
		return fmt.Errorf("syncproto: error response (undecodable): %w", err)
	}
	return errors.New(em.Text)
}

func (c *Conn) GetMST(req GetMST) (MstRoot, error) {
	mt, payload, err := c.call(typeGetMST, req)
	if err != nil {
		return MstRoot{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return MstRoot{}, rerr
	}
	var resp MstRoot
	return resp, unmarshalMessage(payload, &resp)
}

func (c *Conn) GetFiles(req GetFiles) (FilesV2, error) {
	mt, payload, err := c.call(typeGetFiles, req)
	if err != nil {
		return FilesV2{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return FilesV2{}, rerr
	}
	if mt == typeFiles {
		// Legacy encoding: synthesize FilesV2 from Exists entries plus
		// deleted paths with an empty VC, per spec §4.11's documented
		// limitation (see DESIGN.md Open Question decisions).
		var legacy Files
		if err := unmarshalMessage(payload, &legacy); err != nil {
			return FilesV2{}, err
		}
		l.Warnf("syncproto: peer only speaks legacy Files encoding, synthesizing tombstones with empty vector clocks")
		return synthesizeFilesV2(legacy), nil
	}
	var resp FilesV2
	return resp, unmarshalMessage(payload, &resp)
}

func (c *Conn) GetFileData(req GetFileData) (FileData, error) {
	mt, payload, err := c.call(typeGetFileData, req)
	if err != nil {
		return FileData{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return FileData{}, rerr
	}
	var resp FileData
	return resp, unmarshalMessage(payload, &resp)
}

func (c *Conn) PutFileData(req PutFileData) (PutAck, error) {
	mt, payload, err := c.call(typePutFileData, req)
	if err != nil {
		return PutAck{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return PutAck{}, rerr
	}
	var resp PutAck
	return resp, unmarshalMessage(payload, &resp)
}

func (c *Conn) DeleteFiles(req DeleteFiles) (DeleteAck, error) {
	mt, payload, err := c.call(typeDeleteFiles, req)
	if err != nil {
		return DeleteAck{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return DeleteAck{}, rerr
	}
	var resp DeleteAck
	return resp, unmarshalMessage(payload, &resp)
}

func (c *Conn) GetFileChunks(req GetFileChunks) (FileChunks, error) {
	mt, payload, err := c.call(typeGetFileChunks, req)
	if err != nil {
		return FileChunks{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return FileChunks{}, rerr
	}
	var resp FileChunks
	return resp, unmarshalMessage(payload, &resp)
}

func (c *Conn) GetChunkData(req GetChunkData) (ChunkData, error) {
	mt, payload, err := c.call(typeGetChunkData, req)
	if err != nil {
		return ChunkData{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return ChunkData{}, rerr
	}
	var resp ChunkData
	return resp, unmarshalMessage(payload, &resp)
}

func (c *Conn) PutFileChunks(req PutFileChunks) (FileChunksAck, error) {
	mt, payload, err := c.call(typePutFileChunks, req)
	if err != nil {
		return FileChunksAck{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return FileChunksAck{}, rerr
	}
	var resp FileChunksAck
	return resp, unmarshalMessage(payload, &resp)
}

func (c *Conn) PutChunkData(req PutChunkData) (ChunkAck, error) {
	mt, payload, err := c.call(typePutChunkData, req)
	if err != nil {
		return ChunkAck{}, err
	}
	if rerr := asError(mt, payload); rerr != nil {
		return ChunkAck{}, rerr
	}
	var resp ChunkAck
	return resp, unmarshalMessage(payload, &resp)
}

func synthesizeFilesV2(legacy Files) FilesV2 {
	states := make(map[string]syncmodel.FileState, len(legacy.Files)+len(legacy.DeletedPaths))
	for p, m := range legacy.Files {
		states[p] = syncmodel.NewExists(m)
	}
	for _, p := range legacy.DeletedPaths {
		states[p] = syncmodel.NewDeleted(syncmodel.DeletionRecord{VC: vectorclock.New()})
	}
	return FilesV2{SyncID: legacy.SyncID, States: states}
}

func lz4Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(zr)
}
