// Package relay implements the fallback transport that moves frames
// through the signaling server when devices cannot reach each other
// directly.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ivenlau/xtrans-s/internal/logger"
	"github.com/ivenlau/xtrans-s/internal/signaling"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

// Carrier moves relay events between devices. *signaling.Client
// satisfies it.
type Carrier interface {
	SendRelay(ctx context.Context, to, event string, body []byte) error
	RecvRelay() <-chan signaling.Delivery
}

type Options struct {
	DeviceID string
	Carrier  Carrier
	Logger   *logrus.Logger
}

type Factory struct {
	deviceID string
	carrier  Carrier
	logger   *logrus.Logger
	accept   chan transport.Incoming

	mu       sync.Mutex
	channels map[string]*Channel

	done      chan struct{}
	closeOnce sync.Once
}

func NewFactory(opts Options) *Factory {
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}

	f := &Factory{
		deviceID: opts.DeviceID,
		carrier:  opts.Carrier,
		logger:   opts.Logger,
		accept:   make(chan transport.Incoming, 16),
		channels: make(map[string]*Channel),
		done:     make(chan struct{}),
	}
	go f.route()
	return f
}

func (f *Factory) Kind() transport.Kind {
	return transport.KindRelay
}

// Open asks the server to reach peerID. The channel connects when the
// peer confirms, or fails when the server reports it unreachable.
func (f *Factory) Open(ctx context.Context, peerID string) (transport.Channel, error) {
	ch := f.newChannel(peerID)
	ch.setState(transport.StateConnecting)

	if err := f.carrier.SendRelay(ctx, peerID, signaling.EventOpen, nil); err != nil {
		ch.setState(transport.StateFailed)
		f.evict(peerID, ch)
		return nil, fmt.Errorf("failed to open relay channel: %w", err)
	}
	return ch, nil
}

func (f *Factory) Accept() <-chan transport.Incoming {
	return f.accept
}

// newChannel registers a channel for peerID, closing any it replaces.
func (f *Factory) newChannel(peerID string) *Channel {
	ch := &Channel{peerID: peerID, factory: f, state: transport.StateNew}

	f.mu.Lock()
	displaced := f.channels[peerID]
	f.channels[peerID] = ch
	f.mu.Unlock()

	if displaced != nil {
		displaced.setState(transport.StateClosed)
	}
	return ch
}

func (f *Factory) route() {
	for {
		select {
		case <-f.done:
			return
		case d, ok := <-f.carrier.RecvRelay():
			if !ok {
				return
			}
			f.handleDelivery(d)
		}
	}
}

func (f *Factory) handleDelivery(d signaling.Delivery) {
	f.mu.Lock()
	ch := f.channels[d.From]
	f.mu.Unlock()

	switch d.Event {
	case signaling.EventOpen:
		ch = f.newChannel(d.From)
		ch.setState(transport.StateConnected)
		if err := f.carrier.SendRelay(context.Background(), d.From, signaling.EventOpened, nil); err != nil {
			f.logger.Warnf("Failed to confirm relay channel to %s: %v", d.From, err)
		}
		select {
		case f.accept <- transport.Incoming{PeerID: d.From, Channel: ch}:
		default:
			f.logger.Warnf("Dropping inbound relay channel from %s: accept queue full", d.From)
		}

	case signaling.EventOpened:
		if ch != nil {
			ch.setState(transport.StateConnected)
		}

	case signaling.EventData:
		if ch != nil {
			ch.deliver(d.Body)
		}

	case signaling.EventClose:
		if ch != nil {
			ch.setState(transport.StateClosed)
			f.evict(d.From, ch)
		}

	case signaling.EventUnreachable:
		if ch != nil {
			ch.setState(transport.StateFailed)
			f.evict(d.From, ch)
		}

	default:
		f.logger.Warnf("Unknown relay event %q from %s", d.Event, d.From)
	}
}

func (f *Factory) evict(peerID string, ch *Channel) {
	f.mu.Lock()
	if f.channels[peerID] == ch {
		delete(f.channels, peerID)
	}
	f.mu.Unlock()
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)

		f.mu.Lock()
		channels := f.channels
		f.channels = make(map[string]*Channel)
		f.mu.Unlock()

		for _, ch := range channels {
			ch.setState(transport.StateClosed)
		}
	})
	return nil
}
