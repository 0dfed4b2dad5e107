package transport

import "testing"

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindWebRTC, "webrtc"},
		{KindRelay, "relay"},
		{KindMem, "mem"},
		{Kind(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("%d.String() = %s, want %s", tt.kind, got, tt.expected)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateNew, "new"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateFailed, "failed"},
		{StateClosed, "closed"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("%d.String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateNew, StateConnecting, StateConnected} {
		if s.Terminal() {
			t.Errorf("expected %v not terminal", s)
		}
	}
	for _, s := range []State{StateFailed, StateClosed} {
		if !s.Terminal() {
			t.Errorf("expected %v terminal", s)
		}
	}
}
