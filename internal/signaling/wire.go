// Package signaling carries offers, answers and candidates between devices
// through a rendezvous server, and relays data frames for devices that
// cannot reach each other directly.
package signaling

// Envelope types exchanged with the server.
const (
	TypeSignal = "signal"
	TypeRelay  = "relay"
)

// Relay events. Open starts a relayed channel, Opened confirms it, Data
// carries frames, Close tears it down. Unreachable is sent by the server
// when the target device is not connected.
const (
	EventOpen        = "open"
	EventOpened      = "opened"
	EventData        = "data"
	EventClose       = "close"
	EventUnreachable = "unreachable"
)

// Envelope is the single wire message exchanged with the server. The
// server stamps From with the sender's registered device id.
type Envelope struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Event     string `json:"event,omitempty"`
	Body      []byte `json:"body,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Delivery is one relayed frame handed to the relay transport.
type Delivery struct {
	From  string
	Event string
	Body  []byte
}
