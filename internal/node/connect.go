package node

import (
	"context"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/peer"
	"github.com/ivenlau/xtrans-s/internal/registry"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

// ConnectToDevice establishes a transport to deviceID, trying the
// preferred kind first and each fallback kind in order. An existing
// Connected registration is reused as-is. ident is what discovery knows
// about the device and is recorded ahead of its handshake; a zero
// identity is fine.
func (m *Manager) ConnectToDevice(ctx context.Context, deviceID string, ident device.Identity) error {
	if st, err := m.registry.State(deviceID); err == nil && st.Status == registry.StatusConnected {
		m.logger.Debugf("Reusing connection to %s over %s", deviceID, st.Kind)
		return nil
	}

	if m.devices != nil && ident.Valid() {
		if err := m.devices.Upsert(ident); err != nil {
			m.logger.Warnf("Failed to record device %s: %v", deviceID, err)
		}
	}

	for _, kind := range m.kinds {
		factory := m.factories[kind]
		if factory == nil {
			m.logger.Debugf("No %s factory configured, skipping", kind)
			continue
		}

		for attempt := 1; attempt <= m.retryAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.done:
				return ErrManagerClosed
			default:
			}

			if _, err := m.dial(ctx, factory, deviceID); err != nil {
				m.logger.Warnf("Connect to %s over %s failed (attempt %d/%d): %v",
					deviceID, kind, attempt, m.retryAttempts, err)
				continue
			}
			m.logger.Infof("Connected to %s over %s", deviceID, kind)
			return nil
		}
	}

	if st, err := m.registry.SetStatus(deviceID, registry.StatusFailed); err == nil {
		m.emitState(st)
	}
	return ErrAllTransportsFailed
}

// dial opens one channel, adopts it and waits for the data path to come
// up within the connect timeout. A channel that negotiated but never
// opened counts as a failure.
func (m *Manager) dial(ctx context.Context, factory transport.Factory, deviceID string) (*peer.Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	ch, err := factory.Open(dialCtx, deviceID)
	if err != nil {
		return nil, err
	}

	tr := m.adopt(deviceID, ch, factory.Kind())
	if err := tr.WaitReady(dialCtx); err != nil {
		if st, serr := m.registry.SetStatus(deviceID, registry.StatusFailed); serr == nil {
			m.emitState(st)
		}
		_ = tr.Close()
		return nil, err
	}
	return tr, nil
}
