package node

import (
	"testing"
	"time"

	"github.com/ivenlau/xtrans-s/internal/protocol"
	"github.com/ivenlau/xtrans-s/internal/registry"
)

func TestSubscribe_Cancel(t *testing.T) {
	m := New(Options{Identity: testIdentity("device-a", "alpha")})
	t.Cleanup(func() { _ = m.Close() })

	got := make(chan registry.ConnectionState, 4)
	cancel := m.Subscribe(Listener{OnConnectionState: func(st registry.ConnectionState) { got <- st }})

	m.emitState(registry.ConnectionState{DeviceID: "device-b", Status: registry.StatusConnecting})
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("subscribed listener never fired")
	}

	cancel()
	m.emitState(registry.ConnectionState{DeviceID: "device-b", Status: registry.StatusConnected})
	select {
	case st := <-got:
		t.Errorf("cancelled listener still received %+v", st)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_PanicIsolation(t *testing.T) {
	m := New(Options{Identity: testIdentity("device-a", "alpha")})
	t.Cleanup(func() { _ = m.Close() })

	m.Subscribe(Listener{OnConnectionState: func(registry.ConnectionState) {
		panic("listener bug")
	}})
	survived := make(chan struct{}, 4)
	m.Subscribe(Listener{OnConnectionState: func(registry.ConnectionState) {
		survived <- struct{}{}
	}})

	// Must not panic through, and the healthy listener still runs.
	m.emitState(registry.ConnectionState{DeviceID: "device-b", Status: registry.StatusConnecting})

	select {
	case <-survived:
	case <-time.After(time.Second):
		t.Fatal("healthy listener starved by a panicking one")
	}
}

func TestSubscribe_NilCallbacks(t *testing.T) {
	m := New(Options{Identity: testIdentity("device-a", "alpha")})
	t.Cleanup(func() { _ = m.Close() })

	m.Subscribe(Listener{})

	// A listener with no callbacks is skipped, not crashed on.
	m.emitState(registry.ConnectionState{DeviceID: "device-b"})
	m.emitHandshake(testIdentity("device-b", "beta"))
	m.emitMessage("device-b", protocol.ParseEnvelope([]byte(`{"type":"control","action":"noop"}`)))
}
