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

// Package syncproto implements the wire protocol of spec §6: the
// SyncRequest/SyncResponse tagged enumerations, framed as length-prefixed
// messages with a bit-packed header, plus the connection that speaks it.
// Framing is lifted directly from internal/protocol/header.go's
// version/msgID/msgType/compression packing; the connection's
// awaiting-map request/response pattern is grounded on
// protocol.Connection in the wider retrieval pack.
package syncproto

import "github.com/calmh/xdr"

const protocolVersion = 1

type header struct {
	version     int
	msgID       int
	msgType     int
	compression bool
}

func (h header) encodeXDR(xw *xdr.Writer) (int, error) {
	return xw.WriteUint32(encodeHeader(h))
}

func (h *header) decodeXDR(xr *xdr.Reader) error {
	*h = decodeHeader(xr.ReadUint32())
	return xr.Error()
}

func encodeHeader(h header) uint32 {
	var isComp uint32
	if h.compression {
		isComp = 1 << 0
	}
	return uint32(h.version&0xf)<<28 +
		uint32(h.msgID&0xfff)<<16 +
		uint32(h.msgType&0xff)<<8 +
		isComp
}

func decodeHeader(u uint32) header {
	return header{
		version:     int(u>>28) & 0xf,
		msgID:       int(u>>16) & 0xfff,
		msgType:     int(u>>8) & 0xff,
		compression: u&1 == 1,
	}
}

// Message type tags. Requests and responses share one byte space: every
// request tag precedes typeMstRoot, and the reader loop tells a response
// from a request by its tag alone (see isResponseType in conn.go).
const (
	typeGetMST msgType = iota
	typeGetFiles
	typeGetFileData
	typePutFileData
	typeDeleteFiles
	typeGetFileChunks
	typeGetChunkData
	typePutFileChunks
	typePutChunkData

	typeMstRoot
	typeFiles
	typeFilesV2
	typeFileData
	typePutAck
	typeDeleteAck
	typeFileChunks
	typeChunkData
	typeFileChunksAck
	typeChunkAck
	typeError
)

type msgType int
