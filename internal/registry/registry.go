// Package registry tracks which transport serves which device, together
// with the connection state published for it. Entries live in an arena
// indexed by a separate id lookup table, so rekeying a device from its
// provisional id to the real one is a single map update.
package registry

import (
	"errors"
	"sync"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/peer"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

var ErrNotFound = errors.New("device not registered")

// Status of one device's connection.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusFailed
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ConnectionState is the published state of one device's connection.
type ConnectionState struct {
	DeviceID   string
	Kind       transport.Kind
	Status     Status
	LatencyMs  int64
	LastActive int64
}

type entry struct {
	transport *peer.Transport
	state     ConnectionState
}

type Registry struct {
	mu    sync.Mutex
	arena []*entry
	free  []int
	index map[string]int
}

func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register binds deviceID to tr in Connecting state. A transport already
// registered under deviceID is displaced and closed: last connection
// wins.
func (r *Registry) Register(deviceID string, tr *peer.Transport, kind transport.Kind) {
	r.mu.Lock()
	var displaced *peer.Transport
	if i, ok := r.index[deviceID]; ok {
		displaced = r.arena[i].transport
		r.releaseLocked(deviceID, i)
	}

	i := r.allocLocked()
	r.arena[i] = &entry{
		transport: tr,
		state: ConnectionState{
			DeviceID:   deviceID,
			Kind:       kind,
			Status:     StatusConnecting,
			LastActive: device.NowMillis(),
		},
	}
	r.index[deviceID] = i
	r.mu.Unlock()

	if displaced != nil && displaced != tr {
		_ = displaced.Close()
	}
}

// Rekey moves the registration at oldID to newID in one step: lookups
// under oldID fail afterwards, lookups under newID find the transport.
// A transport already registered under newID is displaced and closed.
func (r *Registry) Rekey(oldID, newID string) error {
	if oldID == newID {
		return nil
	}

	r.mu.Lock()
	i, ok := r.index[oldID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	var displaced *peer.Transport
	if j, ok := r.index[newID]; ok {
		displaced = r.arena[j].transport
		r.releaseLocked(newID, j)
	}

	delete(r.index, oldID)
	r.index[newID] = i
	r.arena[i].state.DeviceID = newID
	r.arena[i].state.LastActive = device.NowMillis()
	r.mu.Unlock()

	if displaced != nil {
		_ = displaced.Close()
	}
	return nil
}

func (r *Registry) Get(deviceID string) (*peer.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.arena[i].transport, nil
}

func (r *Registry) State(deviceID string) (ConnectionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[deviceID]
	if !ok {
		return ConnectionState{}, ErrNotFound
	}
	return r.arena[i].state, nil
}

// SetStatus updates the status and returns the new state for publishing.
func (r *Registry) SetStatus(deviceID string, s Status) (ConnectionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[deviceID]
	if !ok {
		return ConnectionState{}, ErrNotFound
	}
	r.arena[i].state.Status = s
	r.arena[i].state.LastActive = device.NowMillis()
	return r.arena[i].state, nil
}

func (r *Registry) SetLatency(deviceID string, latencyMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[deviceID]
	if !ok {
		return ErrNotFound
	}
	r.arena[i].state.LatencyMs = latencyMs
	r.arena[i].state.LastActive = device.NowMillis()
	return nil
}

func (r *Registry) Touch(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[deviceID]; ok {
		r.arena[i].state.LastActive = device.NowMillis()
	}
}

// Remove evicts the registration and returns its transport for the
// caller to close.
func (r *Registry) Remove(deviceID string) (*peer.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	tr := r.arena[i].transport
	r.releaseLocked(deviceID, i)
	return tr, nil
}

// States returns a snapshot of every registered device's state.
func (r *Registry) States() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]ConnectionState, 0, len(r.index))
	for _, i := range r.index {
		states = append(states, r.arena[i].state)
	}
	return states
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}

func (r *Registry) allocLocked() int {
	if n := len(r.free); n > 0 {
		i := r.free[n-1]
		r.free = r.free[:n-1]
		return i
	}
	r.arena = append(r.arena, nil)
	return len(r.arena) - 1
}

func (r *Registry) releaseLocked(deviceID string, i int) {
	r.arena[i] = nil
	r.free = append(r.free, i)
	delete(r.index, deviceID)
}
