// Package mem provides an in-process channel pair and factory used by
// tests. Both ends share the package's synthetic negotiation: applying an
// answer on the offering end connects the pair, mirroring how a real
// transport reports ready.
package mem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ivenlau/xtrans-s/internal/transport"
)

var errClosed = errors.New("mem channel closed")

type sendErrBox struct{ err error }

type Channel struct {
	mu        sync.Mutex
	peer      *Channel
	state     transport.State
	onMessage func([]byte)
	onState   func(transport.State)
	pending   [][]byte
	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once

	remoteDesc string
	initiator  bool

	buffered atomic.Uint64
	sendErr  atomic.Value
}

// NewPair returns two linked channels in StateNew. Messages sent on one
// end are delivered, in order, to the other end's OnMessage handler.
func NewPair() (*Channel, *Channel) {
	a := newChannel()
	b := newChannel()
	a.peer = b
	b.peer = a
	return a, b
}

func newChannel() *Channel {
	c := &Channel{
		state: transport.StateNew,
		inbox: make(chan []byte, 1024),
		done:  make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *Channel) pump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.inbox:
			c.mu.Lock()
			fn := c.onMessage
			if fn == nil {
				c.pending = append(c.pending, data)
				c.mu.Unlock()
				continue
			}
			c.mu.Unlock()
			fn(data)
		}
	}
}

func (c *Channel) CreateOffer(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return "", errClosed
	}
	c.initiator = true
	fn := c.transitionLocked(transport.StateConnecting)
	c.mu.Unlock()

	if fn != nil {
		fn(transport.StateConnecting)
	}
	return wrapDesc("offer"), nil
}

func (c *Channel) CreateAnswer(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return "", errClosed
	}
	if c.remoteDesc == "" {
		c.mu.Unlock()
		return "", errors.New("no remote description")
	}
	fn := c.transitionLocked(transport.StateConnecting)
	c.mu.Unlock()

	if fn != nil {
		fn(transport.StateConnecting)
	}
	return wrapDesc("answer"), nil
}

// SetRemoteDescription stores the description. Applying an answer on the
// offering end connects both channels.
func (c *Channel) SetRemoteDescription(desc string) error {
	var wrapped struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(desc), &wrapped); err != nil {
		return fmt.Errorf("parsing description: %w", err)
	}

	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return errClosed
	}
	c.remoteDesc = desc
	connect := wrapped.Type == "answer" && c.initiator
	c.mu.Unlock()

	if connect {
		c.Open()
	}
	return nil
}

func (c *Channel) AddCandidate(candidate string) error {
	return nil
}

// Open moves both ends to Connected, firing state handlers.
func (c *Channel) Open() {
	c.setState(transport.StateConnected)
	c.peer.setState(transport.StateConnected)
}

// Fail moves this end to Failed.
func (c *Channel) Fail() {
	c.setState(transport.StateFailed)
}

func (c *Channel) Send(data []byte) error {
	if box, ok := c.sendErr.Load().(sendErrBox); ok && box.err != nil {
		return box.err
	}

	if c.State() != transport.StateConnected {
		return errClosed
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.peer.inbox <- buf:
		return nil
	case <-c.peer.done:
		return errClosed
	}
}

func (c *Channel) BufferedAmount() uint64 {
	return c.buffered.Load()
}

// SetBuffered overrides the reported buffered byte count so tests can
// exercise backpressure gating.
func (c *Channel) SetBuffered(n uint64) {
	c.buffered.Store(n)
}

// SetSendErr makes every Send fail with err until cleared with nil.
func (c *Channel) SetSendErr(err error) {
	c.sendErr.Store(sendErrBox{err})
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

// Close closes both ends.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.setState(transport.StateClosed)
		close(c.done)
		if c.peer != nil {
			go c.peer.Close()
		}
	})
	return nil
}

func (c *Channel) setState(s transport.State) {
	c.mu.Lock()
	fn := c.transitionLocked(s)
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// transitionLocked mutates state and returns the handler to invoke after
// the lock is released, or nil when nothing changed.
func (c *Channel) transitionLocked(s transport.State) func(transport.State) {
	if c.state == s || c.state.Terminal() {
		return nil
	}
	c.state = s
	return c.onState
}

func wrapDesc(kind string) string {
	return fmt.Sprintf(`{"type":%q,"sdp":"v=0\r\ns=mem\r\n"}`, kind)
}
