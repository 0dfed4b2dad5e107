package node

import (
	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/protocol"
	"github.com/ivenlau/xtrans-s/internal/registry"
)

// Listener receives manager events. Any callback may be nil. Callbacks
// run on the dispatching goroutine; a panicking listener is logged and
// never takes down the manager or its fellow listeners.
type Listener struct {
	OnConnectionState func(st registry.ConnectionState)
	OnMessage         func(deviceID string, env protocol.Envelope)
	OnHandshake       func(ident device.Identity)
}

// Subscribe registers l and returns the function that removes it again.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) snapshotListeners() []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()

	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func (m *Manager) emitState(st registry.ConnectionState) {
	m.logger.Debugf("Connection state for %s: %s over %s", st.DeviceID, st.Status, st.Kind)
	for _, l := range m.snapshotListeners() {
		if l.OnConnectionState != nil {
			m.safeNotify(func() { l.OnConnectionState(st) })
		}
	}
}

func (m *Manager) emitMessage(deviceID string, env protocol.Envelope) {
	for _, l := range m.snapshotListeners() {
		if l.OnMessage != nil {
			m.safeNotify(func() { l.OnMessage(deviceID, env) })
		}
	}
}

func (m *Manager) emitHandshake(ident device.Identity) {
	for _, l := range m.snapshotListeners() {
		if l.OnHandshake != nil {
			m.safeNotify(func() { l.OnHandshake(ident) })
		}
	}
}

func (m *Manager) safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("Event listener panicked: %v", r)
		}
	}()
	fn()
}
