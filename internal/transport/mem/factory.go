package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/ivenlau/xtrans-s/internal/transport"
)

// Hub routes dials between factories registered on it, one factory per
// device id. Two nodes sharing a hub can reach each other without any
// network.
type Hub struct {
	mu        sync.Mutex
	factories map[string]*Factory
}

func NewHub() *Hub {
	return &Hub{factories: make(map[string]*Factory)}
}

// Factory registers and returns a factory answering for localID.
func (h *Hub) Factory(localID string) *Factory {
	f := &Factory{
		localID: localID,
		hub:     h,
		accept:  make(chan transport.Incoming, 8),
	}
	h.mu.Lock()
	h.factories[localID] = f
	h.mu.Unlock()
	return f
}

func (h *Hub) lookup(id string) *Factory {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.factories[id]
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.factories, id)
	h.mu.Unlock()
}

type Factory struct {
	localID string
	hub     *Hub
	accept  chan transport.Incoming
}

func (f *Factory) Kind() transport.Kind {
	return transport.KindMem
}

// Open connects to the factory registered for peerID on the same hub.
// The returned channel is already Connected; the far side receives its
// end through Accept.
func (f *Factory) Open(ctx context.Context, peerID string) (transport.Channel, error) {
	far := f.hub.lookup(peerID)
	if far == nil {
		return nil, fmt.Errorf("no mem peer %q", peerID)
	}

	a, b := NewPair()
	select {
	case far.accept <- transport.Incoming{PeerID: f.localID, Channel: b}:
	case <-ctx.Done():
		a.Close()
		return nil, ctx.Err()
	}
	a.Open()
	return a, nil
}

func (f *Factory) Accept() <-chan transport.Incoming {
	return f.accept
}

// Close unregisters the factory. The accept channel stays open so
// readers draining it do not race a late Open.
func (f *Factory) Close() error {
	f.hub.remove(f.localID)
	return nil
}
