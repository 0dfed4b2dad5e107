package protocol

// Frame layout: 4-byte magic, 36-byte null-padded file id, 4-byte chunk
// index, then raw payload. All integers big-endian.
const (
	FrameMagic uint32 = 0x58544652 // "XTFR"
	FileIDSize        = 36
	HeaderSize        = 44

	DefaultChunkSize = 16 * 1024
)

// Kind classifies an inbound payload for dispatch.
type Kind int

const (
	KindText Kind = iota
	KindFile
	KindControl
	KindHandshake
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	case KindControl:
		return "control"
	case KindHandshake:
		return "handshake"
	default:
		return "unknown"
	}
}

// Wire discriminators. The first group names envelope kinds directly; the
// second group is the chunk-protocol vocabulary, all of which classifies
// as KindFile.
const (
	TypeText      = "text"
	TypeFile      = "file"
	TypeControl   = "control"
	TypeHandshake = "handshake"

	TypeMetadata   = "metadata"
	TypeChunk      = "chunk"
	TypeEnd        = "end"
	TypeAck        = "ack"
	TypeFileAccept = "file_accept"
	TypeFileReject = "file_reject"
	TypeFileCancel = "file_cancel"
)

// Control actions carried by TypeControl messages.
const (
	ActionPing = "ping"
	ActionPong = "pong"
)
