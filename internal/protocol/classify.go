package protocol

import "encoding/json"

// Classify maps a raw inbound payload to its envelope kind. JSON payloads
// are classified by their type discriminator; the chunk-protocol vocabulary
// collapses into KindFile. Anything else (framed binary chunks, unknown
// discriminators, non-JSON bytes) is treated as file data rather than
// discarded.
func Classify(raw []byte) Kind {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err == nil {
		switch head.Type {
		case TypeText:
			return KindText
		case TypeFile:
			return KindFile
		case TypeControl:
			return KindControl
		case TypeHandshake:
			return KindHandshake
		}
	}
	return KindFile
}
