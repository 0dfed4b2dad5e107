package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/ivenlau/xtrans-s/internal/device"
)

// Envelope is the classified view of one inbound payload. Payload keeps the
// raw bytes so callers can re-decode the flat wire structs below.
type Envelope struct {
	Kind      Kind
	Payload   []byte
	Timestamp int64
	ID        string
}

// ParseEnvelope classifies raw and lifts id/timestamp out of the JSON body
// when present. It never fails; unknown payloads classify as file chunks.
func ParseEnvelope(raw []byte) Envelope {
	var head struct {
		ID        string `json:"id"`
		MessageID string `json:"messageId"`
		Timestamp int64  `json:"timestamp"`
	}
	_ = json.Unmarshal(raw, &head)

	id := head.ID
	if id == "" {
		id = head.MessageID
	}
	ts := head.Timestamp
	if ts == 0 {
		ts = device.NowMillis()
	}

	return Envelope{
		Kind:      Classify(raw),
		Payload:   raw,
		Timestamp: ts,
		ID:        id,
	}
}

type Text struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func NewText(content string) Text {
	return Text{
		Type:      TypeText,
		MessageID: uuid.NewString(),
		Content:   content,
		Timestamp: device.NowMillis(),
	}
}

type Handshake struct {
	Type      string          `json:"type"`
	Device    device.Identity `json:"device"`
	Timestamp int64           `json:"timestamp"`
}

func NewHandshake(id device.Identity) Handshake {
	return Handshake{
		Type:      TypeHandshake,
		Device:    id,
		Timestamp: device.NowMillis(),
	}
}

type Control struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

func NewControl(action, id string) Control {
	if id == "" {
		id = uuid.NewString()
	}
	return Control{
		Type:      TypeControl,
		Action:    action,
		ID:        id,
		Timestamp: device.NowMillis(),
	}
}

type Metadata struct {
	Type       string `json:"type"`
	FileID     string `json:"fileId"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType"`
	ChunkCount uint32 `json:"chunkCount"`
}

func NewMetadata(fileID, name, mimeType string, size int64, chunkCount uint32) Metadata {
	return Metadata{
		Type:       TypeMetadata,
		FileID:     fileID,
		Name:       name,
		Size:       size,
		MimeType:   mimeType,
		ChunkCount: chunkCount,
	}
}

// ChunkJSON is the JSON rendering of a chunk. Senders emit binary frames;
// this form is accepted on receive only.
type ChunkJSON struct {
	Type       string `json:"type"`
	FileID     string `json:"fileId"`
	ChunkIndex uint32 `json:"chunkIndex"`
	Bytes      []byte `json:"bytes"`
}

type End struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

func NewEnd(fileID string) End {
	return End{Type: TypeEnd, FileID: fileID}
}

type Ack struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

func NewAck(messageID string) Ack {
	return Ack{Type: TypeAck, MessageID: messageID}
}

type FileAccept struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

func NewFileAccept(fileID string) FileAccept {
	return FileAccept{Type: TypeFileAccept, FileID: fileID}
}

type FileReject struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

func NewFileReject(fileID string) FileReject {
	return FileReject{Type: TypeFileReject, FileID: fileID}
}

type FileCancel struct {
	Type   string `json:"type"`
	FileID string `json:"fileId"`
}

func NewFileCancel(fileID string) FileCancel {
	return FileCancel{Type: TypeFileCancel, FileID: fileID}
}

// ChunkCount returns how many fixed-size chunks a payload of size bytes
// occupies.
func ChunkCount(size int64, chunkSize int) uint32 {
	if chunkSize <= 0 || size <= 0 {
		return 0
	}
	return uint32((size + int64(chunkSize) - 1) / int64(chunkSize))
}
