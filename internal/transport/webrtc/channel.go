package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/ivenlau/xtrans-s/internal/transport"
)

// gatherTimeout bounds the candidate gathering wait when descriptions are
// exchanged manually and cannot be trickled afterwards.
const gatherTimeout = 2 * time.Second

type channel struct {
	peerID     string
	pc         *webrtc.PeerConnection
	logger     *logrus.Logger
	waitGather bool

	mu         sync.Mutex
	dc         *webrtc.DataChannel
	state      transport.State
	onMessage  func([]byte)
	onState    func(transport.State)
	pending    [][]byte
	candidates []webrtc.ICECandidateInit
}

func newChannel(peerID string, pc *webrtc.PeerConnection, waitGather bool, log *logrus.Logger) *channel {
	return &channel{
		peerID:     peerID,
		pc:         pc,
		logger:     log,
		waitGather: waitGather,
		state:      transport.StateNew,
	}
}

func (c *channel) createDataChannel() error {
	ordered := true
	protocolName := "file-transfer"
	dc, err := c.pc.CreateDataChannel("data", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	})
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *channel) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Debugf("Data channel '%s'-'%d' open", dc.Label(), dc.ID())
		c.setState(transport.StateConnected)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.deliver(msg.Data)
	})

	dc.OnError(func(err error) {
		c.logger.Errorf("Data channel error: %v", err)
	})

	dc.OnClose(func() {
		c.logger.Debugf("Data channel '%s'-'%d' closed", dc.Label(), dc.ID())
		c.setState(transport.StateClosed)
	})
}

func (c *channel) CreateOffer(ctx context.Context) (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	desc, err := c.applyLocal(ctx, offer)
	if err != nil {
		return "", err
	}
	c.setState(transport.StateConnecting)
	return desc, nil
}

func (c *channel) CreateAnswer(ctx context.Context) (string, error) {
	if c.pc.RemoteDescription() == nil {
		return "", fmt.Errorf("no remote description")
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	desc, err := c.applyLocal(ctx, answer)
	if err != nil {
		return "", err
	}
	c.setState(transport.StateConnecting)
	return desc, nil
}

// applyLocal sets the local description and returns it as JSON. Without a
// signaler to trickle through, it first waits for candidate gathering so
// the description carries the candidates inline.
func (c *channel) applyLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	if c.waitGather {
		select {
		case <-gathered:
		case <-time.After(gatherTimeout):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	raw, err := json.Marshal(c.pc.LocalDescription())
	if err != nil {
		return "", fmt.Errorf("failed to encode description: %w", err)
	}
	return string(raw), nil
}

func (c *channel) SetRemoteDescription(raw string) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return fmt.Errorf("failed to parse description: %w", err)
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	c.mu.Lock()
	queued := c.candidates
	c.candidates = nil
	c.mu.Unlock()

	for _, init := range queued {
		if err := c.pc.AddICECandidate(init); err != nil {
			c.logger.Warnf("Failed to add ICE candidate: %v", err)
		}
	}
	return nil
}

func (c *channel) AddCandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		init = webrtc.ICECandidateInit{Candidate: candidate}
	}

	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		// Candidates arriving before the description are replayed after it.
		c.candidates = append(c.candidates, init)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.pc.AddICECandidate(init)
}

func (c *channel) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return fmt.Errorf("data channel not ready")
	}
	return dc.Send(data)
}

func (c *channel) BufferedAmount() uint64 {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil {
		return 0
	}
	return dc.BufferedAmount()
}

func (c *channel) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	backlog := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, data := range backlog {
		fn(data)
	}
}

func (c *channel) OnStateChange(fn func(transport.State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *channel) Close() error {
	c.setState(transport.StateClosed)

	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	return c.pc.Close()
}

func (c *channel) deliver(data []byte) {
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

func (c *channel) setState(s transport.State) {
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
