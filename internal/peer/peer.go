// Package peer implements the protocol spoken between two devices over a
// single reliable ordered channel: text messages with acks, identity
// handshakes, and the chunked file transfer protocol.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/logger"
	"github.com/ivenlau/xtrans-s/internal/protocol"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

var (
	ErrChannelNotReady = errors.New("channel not ready")
	ErrChannelFailed   = errors.New("channel failed to connect")
	ErrAcceptTimeout   = errors.New("timed out waiting for file accept")
	ErrRejected        = errors.New("file rejected by peer")
	ErrCancelled       = errors.New("transfer cancelled by peer")
	ErrTransferTimeout = errors.New("file transfer timed out")
	ErrTransportClosed = errors.New("transport closed")
)

const (
	DefaultAcceptTimeout  = 60 * time.Second
	DefaultReceiveTimeout = 300 * time.Second

	// Sending pauses while the channel buffers more than backpressureLimit
	// and paces itself once the buffer passes pacingThreshold.
	backpressureLimit = 16 * 1024 * 1024
	backpressurePoll  = 50 * time.Millisecond
	pacingThreshold   = 1024 * 1024
	pacingDelay       = 10 * time.Millisecond
)

// Handshakes are re-sent on these delays after the first, in case the
// first ones raced the channel warm-up.
var handshakeResends = []time.Duration{time.Second, 3 * time.Second}

// Progress is reported after every chunk in a transfer.
type Progress struct {
	Transferred int64
	Total       int64
	Rate        float64
}

type Options struct {
	Identity       device.Identity
	Logger         *logrus.Logger
	AcceptTimeout  time.Duration
	ReceiveTimeout time.Duration
	ChunkSize      int
}

// Transport runs the peer protocol over one channel. Attach handlers,
// then call Start to begin consuming the channel.
type Transport struct {
	ch     transport.Channel
	logger *logrus.Logger

	identity       device.Identity
	acceptTimeout  time.Duration
	receiveTimeout time.Duration
	chunkSize      int

	mu          sync.Mutex
	peerID      string
	state       transport.State
	remapped    bool
	accepts     map[string]chan bool
	recvs       map[string]*session
	metaCache   map[string]protocol.Metadata
	onMessage   func(protocol.Envelope)
	onHandshake func(device.Identity)
	onState     func(transport.State)
	timers      []*time.Timer

	ready         chan struct{}
	failed        chan struct{}
	done          chan struct{}
	readyOnce     sync.Once
	failedOnce    sync.Once
	handshakeOnce sync.Once
	closeOnce     sync.Once
}

func New(peerID string, ch transport.Channel, opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = protocol.DefaultChunkSize
	}

	return &Transport{
		ch:             ch,
		logger:         opts.Logger,
		identity:       opts.Identity,
		acceptTimeout:  opts.AcceptTimeout,
		receiveTimeout: opts.ReceiveTimeout,
		chunkSize:      opts.ChunkSize,
		peerID:         peerID,
		state:          transport.StateNew,
		accepts:        make(map[string]chan bool),
		recvs:          make(map[string]*session),
		metaCache:      make(map[string]protocol.Metadata),
		ready:          make(chan struct{}),
		failed:         make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start attaches to the channel and replays anything it buffered. Handlers
// registered after Start may miss early messages.
func (t *Transport) Start() {
	t.ch.OnStateChange(t.handleState)
	t.ch.OnMessage(t.handleRaw)
	t.handleState(t.ch.State())
}

func (t *Transport) OnMessage(fn func(protocol.Envelope)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

func (t *Transport) OnHandshake(fn func(device.Identity)) {
	t.mu.Lock()
	t.onHandshake = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(transport.State)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) PeerID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerID
}

func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MarkRemapped records that the peer's handshake revealed its real id.
// Pending handshake re-sends are skipped from here on.
func (t *Transport) MarkRemapped(realID string) {
	t.mu.Lock()
	t.remapped = true
	t.peerID = realID
	t.mu.Unlock()
}

// WaitReady blocks until the channel reports Connected.
func (t *Transport) WaitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.failed:
		return ErrChannelFailed
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send transmits an already-encoded wire message as-is.
func (t *Transport) Send(raw []byte) error {
	if t.State() != transport.StateConnected {
		return ErrChannelNotReady
	}
	return t.ch.Send(raw)
}

// SendText sends a text message and returns its message id. Delivery is
// confirmed by the peer's ack, surfaced through OnMessage.
func (t *Transport) SendText(content string) (string, error) {
	msg := protocol.NewText(content)
	if err := t.sendJSON(msg); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// SendControl sends a control action. An empty id gets a generated one;
// replies carry the id of the message they answer.
func (t *Transport) SendControl(action, id string) (string, error) {
	msg := protocol.NewControl(action, id)
	if err := t.sendJSON(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (t *Transport) AcceptFile(fileID string) error {
	return t.sendJSON(protocol.NewFileAccept(fileID))
}

func (t *Transport) RejectFile(fileID string) error {
	return t.sendJSON(protocol.NewFileReject(fileID))
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.state = transport.StateClosed
		timers := t.timers
		t.timers = nil
		t.mu.Unlock()

		for _, timer := range timers {
			timer.Stop()
		}
		close(t.done)
		_ = t.ch.Close()
	})
	return nil
}

func (t *Transport) sendJSON(v any) error {
	if t.State() != transport.StateConnected {
		return ErrChannelNotReady
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return t.ch.Send(raw)
}

func (t *Transport) handleRaw(raw []byte) {
	env := protocol.ParseEnvelope(raw)

	switch env.Kind {
	case protocol.KindHandshake:
		var hs protocol.Handshake
		if err := json.Unmarshal(raw, &hs); err != nil {
			t.logger.Warnf("Malformed handshake from %s: %v", t.PeerID(), err)
			return
		}
		t.mu.Lock()
		fn := t.onHandshake
		t.mu.Unlock()
		if fn != nil {
			fn(hs.Device)
		}

	case protocol.KindText:
		var msg protocol.Text
		if err := json.Unmarshal(raw, &msg); err == nil && msg.MessageID != "" {
			if err := t.sendJSON(protocol.NewAck(msg.MessageID)); err != nil {
				t.logger.Debugf("Failed to ack message %s: %v", msg.MessageID, err)
			}
		}
		t.emit(env)

	case protocol.KindControl:
		t.emit(env)

	case protocol.KindFile:
		t.handleFileMessage(env)
	}
}

func (t *Transport) emit(env protocol.Envelope) {
	t.mu.Lock()
	fn := t.onMessage
	t.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

func (t *Transport) handleState(s transport.State) {
	t.mu.Lock()
	if t.state == s || t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = s
	onState := t.onState
	t.mu.Unlock()

	switch s {
	case transport.StateConnected:
		t.readyOnce.Do(func() { close(t.ready) })
		t.handshakeOnce.Do(t.startHandshakes)
	case transport.StateFailed:
		t.failedOnce.Do(func() { close(t.failed) })
	}

	if onState != nil {
		onState(s)
	}
}

// startHandshakes announces our identity as soon as the channel opens,
// with re-sends in case the peer attached late.
func (t *Transport) startHandshakes() {
	t.sendHandshake()

	t.mu.Lock()
	for _, delay := range handshakeResends {
		timer := time.AfterFunc(delay, func() {
			t.mu.Lock()
			skip := t.remapped
			t.mu.Unlock()
			if skip {
				return
			}
			t.sendHandshake()
		})
		t.timers = append(t.timers, timer)
	}
	t.mu.Unlock()
}

func (t *Transport) sendHandshake() {
	if err := t.sendJSON(protocol.NewHandshake(t.identity)); err != nil {
		t.logger.Warnf("Failed to send handshake to %s: %v", t.PeerID(), err)
	}
}
