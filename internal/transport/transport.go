// Package transport defines the capability surface a peer channel
// implementation must provide, plus the kind and state vocabulary shared
// by the concrete transports.
package transport

import (
	"context"
	"io"
)

// Kind identifies a transport implementation. Fallback order between
// kinds is configured on the connection manager.
type Kind int

const (
	KindWebRTC Kind = iota
	KindRelay
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindWebRTC:
		return "webrtc"
	case KindRelay:
		return "relay"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// State is the lifecycle of one channel. Connected is reported only once
// the data path is usable, not when negotiation finishes.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Channel is one reliable ordered message pipe to a single remote peer.
// Session descriptions are JSON-wrapped {"type":...,"sdp":...} strings.
// The negotiation methods exist so manual (copy/paste) signaling can drive
// a channel directly; factories use them internally otherwise.
type Channel interface {
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetRemoteDescription(desc string) error
	AddCandidate(candidate string) error

	Send(data []byte) error
	BufferedAmount() uint64
	State() State
	OnMessage(fn func(data []byte))
	OnStateChange(fn func(State))
	Close() error
}

// Incoming is a channel opened by a remote peer.
type Incoming struct {
	PeerID  string
	Channel Channel
}

// Factory dials and accepts channels of one kind.
type Factory interface {
	Kind() Kind
	Open(ctx context.Context, peerID string) (Channel, error)
	Accept() <-chan Incoming
	Close() error
}

// Signal kinds carried by a Signaler.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Signal is one opaque signaling payload between two peers.
type Signal struct {
	From    string
	To      string
	Kind    string
	Payload string
}

// Signaler exchanges signals without interpreting them.
type Signaler interface {
	SendSignal(ctx context.Context, sig Signal) error
	RecvSignal() <-chan Signal
	io.Closer
}
