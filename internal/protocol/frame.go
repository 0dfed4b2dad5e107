package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var ErrFileIDTooLong = errors.New("file id exceeds 36 bytes")

// Frame is one decoded binary chunk.
type Frame struct {
	FileID     string
	ChunkIndex uint32
	Payload    []byte
}

// EncodeFrame builds the 44-byte header followed by the payload. The file
// id is written as UTF-8 and null-padded to 36 bytes.
func EncodeFrame(fileID string, chunkIndex uint32, payload []byte) ([]byte, error) {
	id := []byte(fileID)
	if len(id) > FileIDSize {
		return nil, ErrFileIDTooLong
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], FrameMagic)
	copy(buf[4:4+FileIDSize], id)
	binary.BigEndian.PutUint32(buf[40:HeaderSize], chunkIndex)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// DecodeFrame returns nil when b is shorter than the header or the magic
// does not match: the payload is not a framed chunk and should be handled
// as opaque or legacy data. Trailing null padding is stripped from the
// file id.
func DecodeFrame(b []byte) *Frame {
	if len(b) < HeaderSize {
		return nil
	}
	if binary.BigEndian.Uint32(b[0:4]) != FrameMagic {
		return nil
	}

	return &Frame{
		FileID:     string(bytes.TrimRight(b[4:4+FileIDSize], "\x00")),
		ChunkIndex: binary.BigEndian.Uint32(b[40:HeaderSize]),
		Payload:    b[HeaderSize:],
	}
}
