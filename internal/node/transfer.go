package node

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ivenlau/xtrans-s/internal/peer"
	"github.com/ivenlau/xtrans-s/internal/protocol"
	"github.com/ivenlau/xtrans-s/internal/registry"
)

// SendMessage delivers one message to deviceID and reports whether it was
// handed to a transport. It fails closed: no registered transport, a
// channel that is not ready, or a send error all come back as false, never
// as an error. Text payloads are wrapped in a text message; every other
// kind is sent as-is and must already be encoded for the wire.
func (m *Manager) SendMessage(deviceID string, kind protocol.Kind, payload []byte) bool {
	tr, err := m.registry.Get(deviceID)
	if err != nil {
		m.logger.Debugf("No transport for %s, dropping %s message", deviceID, kind)
		return false
	}

	switch kind {
	case protocol.KindText:
		_, err = tr.SendText(string(payload))
	default:
		err = tr.Send(payload)
	}
	if err != nil {
		m.logger.Debugf("Send to %s failed: %v", deviceID, err)
		return false
	}
	m.registry.Touch(deviceID)
	return true
}

// SendText sends a text message and returns its generated message id.
func (m *Manager) SendText(deviceID, content string) (string, error) {
	tr, err := m.registry.Get(deviceID)
	if err != nil {
		return "", err
	}
	id, err := tr.SendText(content)
	if err != nil {
		return "", err
	}
	m.registry.Touch(deviceID)
	return id, nil
}

// SendFile offers payload to deviceID under a fresh file id and streams
// it once the peer accepts. The returned id correlates progress events
// and history rows with the transfer.
func (m *Manager) SendFile(ctx context.Context, deviceID, name, mimeType string, payload []byte, onProgress func(peer.Progress)) (string, error) {
	tr, err := m.registry.Get(deviceID)
	if err != nil {
		return "", err
	}

	fileID := uuid.NewString()
	logID := m.recordStart(fileID, deviceID, name, mimeType, "send", int64(len(payload)))

	err = tr.SendFile(ctx, fileID, name, mimeType, payload, onProgress)
	m.recordFinish(logID, err)
	if err != nil {
		return fileID, err
	}

	m.registry.Touch(deviceID)
	return fileID, nil
}

// ReceiveFile accepts the offered transfer and returns the assembled
// payload. meta may be nil when the metadata message already reached the
// transport.
func (m *Manager) ReceiveFile(ctx context.Context, deviceID, fileID string, meta *protocol.Metadata, onProgress func(peer.Progress)) ([]byte, error) {
	tr, err := m.registry.Get(deviceID)
	if err != nil {
		return nil, err
	}

	var name, mimeType string
	var size int64
	if meta != nil {
		name, mimeType, size = meta.Name, meta.MimeType, meta.Size
	}
	logID := m.recordStart(fileID, deviceID, name, mimeType, "receive", size)

	payload, err := tr.ReceiveFile(ctx, fileID, meta, onProgress)
	m.recordFinish(logID, err)
	if err != nil {
		return nil, err
	}

	m.registry.Touch(deviceID)
	return payload, nil
}

// RejectFile declines an offered transfer.
func (m *Manager) RejectFile(deviceID, fileID string) error {
	tr, err := m.registry.Get(deviceID)
	if err != nil {
		return err
	}
	return tr.RejectFile(fileID)
}

// Ping measures the round trip to deviceID and stores it as the device's
// latency.
func (m *Manager) Ping(ctx context.Context, deviceID string) (time.Duration, error) {
	tr, err := m.registry.Get(deviceID)
	if err != nil {
		return 0, err
	}

	id := uuid.NewString()
	wait := make(chan struct{})
	m.mu.Lock()
	m.pings[id] = wait
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pings, id)
		m.mu.Unlock()
	}()

	start := time.Now()
	if _, err := tr.SendControl(protocol.ActionPing, id); err != nil {
		return 0, err
	}

	select {
	case <-wait:
		rtt := time.Since(start)
		if err := m.registry.SetLatency(deviceID, rtt.Milliseconds()); err != nil {
			m.logger.Debugf("Failed to store latency for %s: %v", deviceID, err)
		}
		return rtt, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-m.done:
		return 0, ErrManagerClosed
	}
}

// Disconnect closes the device's transport and publishes the final
// Disconnected state. Unknown devices are a no-op, so calling it twice is
// safe.
func (m *Manager) Disconnect(deviceID string) {
	st, err := m.registry.SetStatus(deviceID, registry.StatusDisconnected)
	if err != nil {
		return
	}

	if tr, err := m.registry.Remove(deviceID); err == nil {
		_ = tr.Close()
	}
	m.setOnline(deviceID, false)
	m.emitState(st)
	m.logger.Infof("Disconnected from %s", deviceID)
}

func (m *Manager) recordStart(fileID, deviceID, name, mimeType, direction string, size int64) uint {
	if m.transfers == nil {
		return 0
	}
	id, err := m.transfers.Record(fileID, deviceID, name, mimeType, direction, size)
	if err != nil {
		m.logger.Warnf("Failed to record %s of %s: %v", direction, fileID, err)
		return 0
	}
	return id
}

func (m *Manager) recordFinish(logID uint, transferErr error) {
	if m.transfers == nil || logID == 0 {
		return
	}
	if err := m.transfers.Finish(logID, transferErr); err != nil {
		m.logger.Warnf("Failed to close transfer record %d: %v", logID, err)
	}
}
