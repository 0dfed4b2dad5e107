package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/ivenlau/xtrans-s/internal/signaling"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

var (
	errNotConnected = errors.New("relay channel not connected")
	errNoNegotiate  = errors.New("relay channels do not negotiate")
)

// Channel is one relayed conversation with a peer. The server does the
// routing, so there is no negotiation; the channel connects as soon as
// the far side confirms the open.
type Channel struct {
	peerID  string
	factory *Factory

	mu        sync.Mutex
	state     transport.State
	onMessage func([]byte)
	onState   func(transport.State)
	pending   [][]byte
}

func (c *Channel) CreateOffer(ctx context.Context) (string, error) {
	return "", errNoNegotiate
}

func (c *Channel) CreateAnswer(ctx context.Context) (string, error) {
	return "", errNoNegotiate
}

func (c *Channel) SetRemoteDescription(desc string) error {
	return errNoNegotiate
}

func (c *Channel) AddCandidate(candidate string) error {
	return errNoNegotiate
}

func (c *Channel) Send(data []byte) error {
	if c.State() != transport.StateConnected {
		return errNotConnected
	}
	return c.factory.carrier.SendRelay(context.Background(), c.peerID, signaling.EventData, data)
}

// BufferedAmount is always zero: frames are handed to the server socket
// immediately and nothing is held locally.
func (c *Channel) BufferedAmount() uint64 {
	return 0
}

func (c *Channel) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	backlog := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, data := range backlog {
		fn(data)
	}
}

func (c *Channel) OnStateChange(fn func(transport.State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Channel) Close() error {
	if c.State().Terminal() {
		return nil
	}
	c.setState(transport.StateClosed)
	c.factory.evict(c.peerID, c)

	// Best effort: the peer finds out anyway when the server drops us.
	_ = c.factory.carrier.SendRelay(context.Background(), c.peerID, signaling.EventClose, nil)
	return nil
}

func (c *Channel) deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	if fn == nil {
		buf := make([]byte, len(data))
		copy(buf, data)
		c.pending = append(c.pending, buf)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	fn(data)
}

func (c *Channel) setState(s transport.State) {
	c.mu.Lock()
	if c.state == s || c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onState
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
