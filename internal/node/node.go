// Package node hosts the connection manager: it dials devices over the
// configured transport kinds with ordered fallback, adopts inbound
// channels, keys every live transport by device id and exposes the
// send/receive API the UI drives.
package node

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/logger"
	"github.com/ivenlau/xtrans-s/internal/peer"
	"github.com/ivenlau/xtrans-s/internal/protocol"
	"github.com/ivenlau/xtrans-s/internal/registry"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

var (
	ErrAllTransportsFailed = errors.New("all transport kinds failed")
	ErrManagerClosed       = errors.New("connection manager closed")
)

const (
	DefaultConnectTimeout = 20 * time.Second
	DefaultRetryAttempts  = 1
)

// DeviceDirectory persists identities revealed by handshakes.
type DeviceDirectory interface {
	Upsert(ident device.Identity) error
	SetOnline(deviceID string, online bool) error
	MarkAllOffline() error
}

// TransferLog records file transfers and their outcomes. Direction is
// "send" or "receive".
type TransferLog interface {
	Record(fileID, deviceID, name, mimeType, direction string, size int64) (uint, error)
	Finish(id uint, transferErr error) error
}

type Options struct {
	Identity device.Identity

	// Factories supplies one factory per transport kind the manager may
	// use. The manager owns them and closes them on Close.
	Factories []transport.Factory

	// PreferredKind is dialed first; FallbackKinds follow in order. When
	// FallbackKinds is nil every other configured factory is a fallback,
	// in Factories order.
	PreferredKind transport.Kind
	FallbackKinds []transport.Kind

	// ConnectTimeout bounds each dial attempt; RetryAttempts is how many
	// times each kind is tried before moving on.
	ConnectTimeout time.Duration
	RetryAttempts  int

	AcceptTimeout  time.Duration
	ReceiveTimeout time.Duration
	ChunkSize      int

	Logger *logrus.Logger

	// Devices and Transfers are optional; without them nothing is
	// persisted.
	Devices   DeviceDirectory
	Transfers TransferLog
}

// Manager is one device's view of its peers. Construct with New, wire
// factories through Options, and Close when done; there is no package
// state.
type Manager struct {
	identity  device.Identity
	factories map[transport.Kind]transport.Factory
	kinds     []transport.Kind

	connectTimeout time.Duration
	retryAttempts  int
	acceptTimeout  time.Duration
	receiveTimeout time.Duration
	chunkSize      int

	logger    *logrus.Logger
	devices   DeviceDirectory
	transfers TransferLog

	registry *registry.Registry

	mu        sync.Mutex
	listeners map[int]Listener
	nextSub   int
	pings     map[string]chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}

	factories := make(map[transport.Kind]transport.Factory, len(opts.Factories))
	for _, f := range opts.Factories {
		factories[f.Kind()] = f
	}

	kinds := []transport.Kind{opts.PreferredKind}
	if opts.FallbackKinds != nil {
		kinds = append(kinds, opts.FallbackKinds...)
	} else {
		for _, f := range opts.Factories {
			if f.Kind() != opts.PreferredKind {
				kinds = append(kinds, f.Kind())
			}
		}
	}

	return &Manager{
		identity:       opts.Identity,
		factories:      factories,
		kinds:          kinds,
		connectTimeout: opts.ConnectTimeout,
		retryAttempts:  opts.RetryAttempts,
		acceptTimeout:  opts.AcceptTimeout,
		receiveTimeout: opts.ReceiveTimeout,
		chunkSize:      opts.ChunkSize,
		logger:         opts.Logger,
		devices:        opts.Devices,
		transfers:      opts.Transfers,
		registry:       registry.New(),
		listeners:      make(map[int]Listener),
		pings:          make(map[string]chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start begins accepting inbound connections on every factory.
func (m *Manager) Start() {
	if m.devices != nil {
		if err := m.devices.MarkAllOffline(); err != nil {
			m.logger.Warnf("Failed to reset device presence: %v", err)
		}
	}
	for _, f := range m.factories {
		go m.acceptLoop(f)
	}
	m.logger.Infof("Connection manager for %s running", m.identity.DeviceID)
}

// Close tears the manager down: every transport and factory is closed and
// outstanding waits resolve with ErrManagerClosed.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.logger.Infof("Shutting down connection manager for %s", m.identity.DeviceID)
		close(m.done)

		for _, st := range m.registry.States() {
			if tr, err := m.registry.Remove(st.DeviceID); err == nil {
				_ = tr.Close()
			}
		}
		for _, f := range m.factories {
			_ = f.Close()
		}
	})
	return nil
}

func (m *Manager) Identity() device.Identity {
	return m.identity
}

// State returns the connection state for one device.
func (m *Manager) State(deviceID string) (registry.ConnectionState, error) {
	return m.registry.State(deviceID)
}

// States snapshots the state of every registered device.
func (m *Manager) States() []registry.ConnectionState {
	return m.registry.States()
}

func (m *Manager) acceptLoop(f transport.Factory) {
	for {
		select {
		case <-m.done:
			return
		case inc, ok := <-f.Accept():
			if !ok {
				return
			}
			m.logger.Infof("Inbound %s connection from %s", f.Kind(), inc.PeerID)
			m.adopt(inc.PeerID, inc.Channel, f.Kind())
		}
	}
}

// AdoptChannel runs the peer protocol over a channel negotiated outside
// the manager, such as a manual invite. deviceID may be provisional; the
// peer's handshake rekeys the registration to its real id.
func (m *Manager) AdoptChannel(deviceID string, ch transport.Channel, kind transport.Kind) *peer.Transport {
	return m.adopt(deviceID, ch, kind)
}

// adopt wraps ch in a peer transport, registers it under deviceID and
// starts the protocol. Registration displaces any previous transport for
// the device.
func (m *Manager) adopt(deviceID string, ch transport.Channel, kind transport.Kind) *peer.Transport {
	tr := peer.New(deviceID, ch, peer.Options{
		Identity:       m.identity,
		Logger:         m.logger,
		AcceptTimeout:  m.acceptTimeout,
		ReceiveTimeout: m.receiveTimeout,
		ChunkSize:      m.chunkSize,
	})

	tr.OnMessage(func(env protocol.Envelope) { m.dispatch(tr, env) })
	tr.OnHandshake(func(ident device.Identity) { m.handleHandshake(tr, ident) })
	tr.OnStateChange(func(s transport.State) { m.watchTransport(tr, s) })

	m.registry.Register(deviceID, tr, kind)
	if st, err := m.registry.State(deviceID); err == nil {
		m.emitState(st)
	}

	tr.Start()
	return tr
}

// watchTransport mirrors channel state into the registry and publishes
// the transitions. Transports the manager closed itself do not fire here;
// their teardown paths publish their own states.
func (m *Manager) watchTransport(tr *peer.Transport, s transport.State) {
	deviceID := tr.PeerID()

	switch s {
	case transport.StateConnected:
		if st, err := m.registry.SetStatus(deviceID, registry.StatusConnected); err == nil {
			m.emitState(st)
		}
		m.setOnline(deviceID, true)

	case transport.StateFailed:
		if st, err := m.registry.SetStatus(deviceID, registry.StatusFailed); err == nil {
			m.emitState(st)
		}
		m.setOnline(deviceID, false)

	case transport.StateClosed:
		if cur, err := m.registry.Get(deviceID); err == nil && cur == tr {
			st, _ := m.registry.SetStatus(deviceID, registry.StatusDisconnected)
			_, _ = m.registry.Remove(deviceID)
			m.emitState(st)
			m.setOnline(deviceID, false)
		}
	}
}

// handleHandshake records the peer's identity and, when the transport was
// registered under a provisional id, rekeys it to the real one. The rekey
// lands before any later message from this peer is dispatched.
func (m *Manager) handleHandshake(tr *peer.Transport, ident device.Identity) {
	if !ident.Valid() {
		m.logger.Warnf("Ignoring handshake with no device id from %s", tr.PeerID())
		return
	}

	current := tr.PeerID()
	if current != ident.DeviceID {
		if err := m.registry.Rekey(current, ident.DeviceID); err != nil {
			m.logger.Warnf("Failed to rekey %s to %s: %v", current, ident.DeviceID, err)
		} else {
			tr.MarkRemapped(ident.DeviceID)
			m.logger.Infof("Device %s identified as %s", current, ident.DeviceID)
		}
	}
	m.registry.Touch(ident.DeviceID)

	ident.Touch()
	if m.devices != nil {
		if err := m.devices.Upsert(ident); err != nil {
			m.logger.Warnf("Failed to record device %s: %v", ident.DeviceID, err)
		}
	}
	m.emitHandshake(ident)
}

// dispatch routes one classified inbound message. Ping and pong are
// answered internally; everything else goes to the listeners.
func (m *Manager) dispatch(tr *peer.Transport, env protocol.Envelope) {
	deviceID := tr.PeerID()
	m.registry.Touch(deviceID)

	if env.Kind == protocol.KindControl {
		var ctl protocol.Control
		if err := json.Unmarshal(env.Payload, &ctl); err == nil && m.handleControl(tr, ctl) {
			return
		}
	}
	m.emitMessage(deviceID, env)
}

func (m *Manager) handleControl(tr *peer.Transport, ctl protocol.Control) bool {
	switch ctl.Action {
	case protocol.ActionPing:
		if _, err := tr.SendControl(protocol.ActionPong, ctl.ID); err != nil {
			m.logger.Debugf("Failed to answer ping from %s: %v", tr.PeerID(), err)
		}
		return true

	case protocol.ActionPong:
		m.mu.Lock()
		wait := m.pings[ctl.ID]
		delete(m.pings, ctl.ID)
		m.mu.Unlock()

		if wait != nil {
			close(wait)
		}
		return true
	}
	return false
}

func (m *Manager) setOnline(deviceID string, online bool) {
	if m.devices == nil {
		return
	}
	if err := m.devices.SetOnline(deviceID, online); err != nil {
		m.logger.Debugf("Failed to update presence for %s: %v", deviceID, err)
	}
}
