package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/logger"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

var ErrClientClosed = errors.New("signaling client closed")

// Client is one device's connection to the signaling server. It is both
// a transport.Signaler for WebRTC negotiation and the carrier the relay
// transport sends its frames through.
type Client struct {
	deviceID string
	conn     *websocket.Conn
	logger   *logrus.Logger

	writeMu sync.Mutex
	signals chan transport.Signal
	relays  chan Delivery

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the signaling server and registers deviceID.
func Dial(ctx context.Context, serverURL, deviceID string, log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewLogger()
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	q := u.Query()
	q.Set("device", deviceID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}

	c := &Client{
		deviceID: deviceID,
		conn:     conn,
		logger:   log,
		signals:  make(chan transport.Signal, 32),
		relays:   make(chan Delivery, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer func() { _ = c.Close() }()

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debugf("Signaling read failed: %v", err)
			}
			return
		}

		switch env.Type {
		case TypeSignal:
			sig := transport.Signal{
				From:    env.From,
				To:      env.To,
				Kind:    env.Kind,
				Payload: env.Payload,
			}
			select {
			case c.signals <- sig:
			case <-c.done:
				return
			default:
				c.logger.Warnf("Dropping %s signal from %s: queue full", sig.Kind, sig.From)
			}

		case TypeRelay:
			d := Delivery{From: env.From, Event: env.Event, Body: env.Body}
			select {
			case c.relays <- d:
			case <-c.done:
				return
			default:
				c.logger.Warnf("Dropping relay %s from %s: queue full", d.Event, d.From)
			}

		default:
			c.logger.Warnf("Unknown envelope type %q", env.Type)
		}
	}
}

func (c *Client) SendSignal(ctx context.Context, sig transport.Signal) error {
	return c.write(Envelope{
		Type:      TypeSignal,
		From:      c.deviceID,
		To:        sig.To,
		Kind:      sig.Kind,
		Payload:   sig.Payload,
		Timestamp: device.NowMillis(),
	})
}

func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.signals
}

// SendRelay forwards one relay event to another device.
func (c *Client) SendRelay(ctx context.Context, to, event string, body []byte) error {
	return c.write(Envelope{
		Type:      TypeRelay,
		From:      c.deviceID,
		To:        to,
		Event:     event,
		Body:      body,
		Timestamp: device.NowMillis(),
	})
}

func (c *Client) RecvRelay() <-chan Delivery {
	return c.relays
}

func (c *Client) write(env Envelope) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}
