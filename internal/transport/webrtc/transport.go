// Package webrtc implements the WebRTC data channel transport.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/ivenlau/xtrans-s/internal/logger"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// DefaultConfig returns a configuration using Google's public STUN pool.
func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: defaultSTUNServers},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

type Options struct {
	DeviceID string
	Config   webrtc.Configuration
	Signaler transport.Signaler
	Logger   *logrus.Logger
}

type Factory struct {
	deviceID string
	config   webrtc.Configuration
	signaler transport.Signaler
	logger   *logrus.Logger
	accept   chan transport.Incoming

	mu       sync.RWMutex
	channels map[string]*channel

	done      chan struct{}
	closeOnce sync.Once
}

// NewFactory creates a WebRTC channel factory. With a signaler the factory
// negotiates inbound offers and trickles candidates on its own; without one
// only NewChannel is usable, for manually exchanged descriptions.
func NewFactory(opts Options) *Factory {
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if len(opts.Config.ICEServers) == 0 {
		opts.Config = DefaultConfig()
	}

	f := &Factory{
		deviceID: opts.DeviceID,
		config:   opts.Config,
		signaler: opts.Signaler,
		logger:   opts.Logger,
		accept:   make(chan transport.Incoming, 16),
		channels: make(map[string]*channel),
		done:     make(chan struct{}),
	}
	if f.signaler != nil {
		go f.route()
	}
	return f
}

func (f *Factory) Kind() transport.Kind {
	return transport.KindWebRTC
}

// Open dials peerID by sending an offer through the signaler. The returned
// channel is still connecting; callers wait for it to report Connected.
func (f *Factory) Open(ctx context.Context, peerID string) (transport.Channel, error) {
	if f.signaler == nil {
		return nil, fmt.Errorf("webrtc factory has no signaler")
	}

	ch, err := f.newChannel(peerID, true)
	if err != nil {
		return nil, err
	}

	offer, err := ch.CreateOffer(ctx)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	err = f.signaler.SendSignal(ctx, transport.Signal{
		From:    f.deviceID,
		To:      peerID,
		Kind:    transport.SignalOffer,
		Payload: offer,
	})
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}
	return ch, nil
}

func (f *Factory) Accept() <-chan transport.Incoming {
	return f.accept
}

// NewChannel creates a channel whose descriptions the caller exchanges
// itself. Used by the invite flow where no signaling server is reachable.
func (f *Factory) NewChannel(peerID string, initiator bool) (transport.Channel, error) {
	return f.newChannel(peerID, initiator)
}

func (f *Factory) newChannel(peerID string, initiator bool) (*channel, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ch := newChannel(peerID, pc, f.signaler == nil, f.logger)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		f.logger.Debugf("Peer connection state with %s changed: %s", peerID, s)
		switch s {
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			ch.setState(transport.StateFailed)
			f.evict(peerID, ch)
		case webrtc.PeerConnectionStateClosed:
			ch.setState(transport.StateClosed)
			f.evict(peerID, ch)
		}
	})

	if f.signaler != nil {
		pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
			if ice == nil {
				return
			}
			payload, err := json.Marshal(ice.ToJSON())
			if err != nil {
				return
			}
			sig := transport.Signal{
				From:    f.deviceID,
				To:      peerID,
				Kind:    transport.SignalCandidate,
				Payload: string(payload),
			}
			if err := f.signaler.SendSignal(context.Background(), sig); err != nil {
				f.logger.Warnf("Failed to send ICE candidate: %v", err)
			}
		})
	}

	if initiator {
		if err := ch.createDataChannel(); err != nil {
			_ = pc.Close()
			return nil, err
		}
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			ch.setupDataChannel(dc)
		})
	}

	f.mu.Lock()
	f.channels[peerID] = ch
	f.mu.Unlock()
	return ch, nil
}

func (f *Factory) route() {
	for {
		select {
		case <-f.done:
			return
		case sig, ok := <-f.signaler.RecvSignal():
			if !ok {
				return
			}
			if err := f.handleSignal(sig); err != nil {
				f.logger.Warnf("Failed to handle %s signal from %s: %v", sig.Kind, sig.From, err)
			}
		}
	}
}

func (f *Factory) handleSignal(sig transport.Signal) error {
	f.mu.RLock()
	ch, exists := f.channels[sig.From]
	f.mu.RUnlock()

	if !exists {
		// Only an offer may start a new inbound channel.
		if sig.Kind != transport.SignalOffer {
			return fmt.Errorf("no channel for peer %s", sig.From)
		}
		var err error
		ch, err = f.newChannel(sig.From, false)
		if err != nil {
			return err
		}
	}

	switch sig.Kind {
	case transport.SignalOffer:
		if err := ch.SetRemoteDescription(sig.Payload); err != nil {
			return err
		}
		answer, err := ch.CreateAnswer(context.Background())
		if err != nil {
			return err
		}
		err = f.signaler.SendSignal(context.Background(), transport.Signal{
			From:    f.deviceID,
			To:      sig.From,
			Kind:    transport.SignalAnswer,
			Payload: answer,
		})
		if err != nil {
			return fmt.Errorf("failed to send answer: %w", err)
		}
		select {
		case f.accept <- transport.Incoming{PeerID: sig.From, Channel: ch}:
		default:
			f.logger.Warnf("Dropping inbound channel from %s: accept queue full", sig.From)
		}
		return nil

	case transport.SignalAnswer:
		return ch.SetRemoteDescription(sig.Payload)

	case transport.SignalCandidate:
		return ch.AddCandidate(sig.Payload)
	}
	return fmt.Errorf("unknown signal kind %q", sig.Kind)
}

func (f *Factory) evict(peerID string, ch *channel) {
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
		f.channels = make(map[string]*channel)
		f.mu.Unlock()

		for _, ch := range channels {
			_ = ch.Close()
		}
	})
	return nil
}
