package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ivenlau/xtrans-s/internal/protocol"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

var errSuperseded = errors.New("superseded by a newer receive for the same file")

// session buffers one incoming transfer. Chunks append in arrival order;
// the channel's ordered delivery is the sequencing guarantee.
type session struct {
	meta       *protocol.Metadata
	chunks     [][]byte
	received   int64
	lastChunk  time.Time
	onProgress func(Progress)
	result     chan sessionResult
}

type sessionResult struct {
	payload []byte
	err     error
}

func (s *session) resolve(res sessionResult) {
	select {
	case s.result <- res:
	default:
	}
}

// SendFile offers payload to the peer and streams it in fixed-size chunks
// once accepted. It returns ErrAcceptTimeout when the peer never answers,
// ErrRejected when it declines, and ErrChannelNotReady if the channel
// drops mid-transfer.
func (t *Transport) SendFile(ctx context.Context, fileID, name, mimeType string, payload []byte, onProgress func(Progress)) error {
	if t.State() != transport.StateConnected {
		return ErrChannelNotReady
	}

	total := int64(len(payload))
	meta := protocol.NewMetadata(fileID, name, mimeType, total, protocol.ChunkCount(total, t.chunkSize))

	wait := make(chan bool, 1)
	t.mu.Lock()
	t.accepts[fileID] = wait
	t.mu.Unlock()
	defer t.dropAcceptWait(fileID, wait)

	if err := t.sendJSON(meta); err != nil {
		return fmt.Errorf("failed to send metadata: %w", err)
	}

	timer := time.NewTimer(t.acceptTimeout)
	defer timer.Stop()
	select {
	case accepted := <-wait:
		if !accepted {
			return ErrRejected
		}
	case <-timer.C:
		if err := t.sendJSON(protocol.NewFileCancel(fileID)); err != nil {
			t.logger.Warnf("Failed to cancel transfer %s: %v", fileID, err)
		}
		return ErrAcceptTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrTransportClosed
	}

	t.logger.Infof("Peer accepted file %s (%d bytes)", name, total)

	var sent int64
	last := time.Now()
	for off := 0; off < len(payload); off += t.chunkSize {
		end := off + t.chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunkIndex := uint32(off / t.chunkSize)

		if err := t.waitForBuffer(ctx); err != nil {
			return err
		}

		frame, err := protocol.EncodeFrame(fileID, chunkIndex, payload[off:end])
		if err != nil {
			return err
		}
		if t.State() != transport.StateConnected {
			return ErrChannelNotReady
		}
		if err := t.ch.Send(frame); err != nil {
			return fmt.Errorf("failed to send chunk %d: %w", chunkIndex, err)
		}

		sent += int64(end - off)
		if onProgress != nil {
			now := time.Now()
			var rate float64
			if elapsed := now.Sub(last); elapsed > 0 {
				rate = float64(end-off) / elapsed.Seconds()
			}
			last = now
			onProgress(Progress{Transferred: sent, Total: total, Rate: rate})
		}

		if t.ch.BufferedAmount() > pacingThreshold {
			select {
			case <-time.After(pacingDelay):
			case <-ctx.Done():
				return ctx.Err()
			case <-t.done:
				return ErrTransportClosed
			}
		}
	}

	return t.sendJSON(protocol.NewEnd(fileID))
}

// waitForBuffer blocks while the channel's send queue is over the
// backpressure limit.
func (t *Transport) waitForBuffer(ctx context.Context) error {
	for t.ch.BufferedAmount() > backpressureLimit {
		if t.State() != transport.StateConnected {
			return ErrChannelNotReady
		}
		select {
		case <-time.After(backpressurePoll):
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrTransportClosed
		}
	}
	return nil
}

// ReceiveFile accepts the transfer and collects chunks for fileID until
// End, returning the assembled payload. meta may be nil when the metadata
// message already arrived; the cached copy is used then. The session is
// registered before the accept goes out so no chunk can outrun the
// subscription. Partial data is discarded on timeout.
func (t *Transport) ReceiveFile(ctx context.Context, fileID string, meta *protocol.Metadata, onProgress func(Progress)) ([]byte, error) {
	s := t.openSession(fileID, meta, onProgress)
	defer t.dropSession(fileID, s)

	if err := t.AcceptFile(fileID); err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.receiveTimeout)
	defer timer.Stop()

	select {
	case res := <-s.result:
		return res.payload, res.err
	case <-timer.C:
		return nil, ErrTransferTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	}
}

func (t *Transport) openSession(fileID string, meta *protocol.Metadata, onProgress func(Progress)) *session {
	s := &session{
		meta:       meta,
		onProgress: onProgress,
		lastChunk:  time.Now(),
		result:     make(chan sessionResult, 1),
	}

	t.mu.Lock()
	if cached, ok := t.metaCache[fileID]; ok {
		if s.meta == nil {
			m := cached
			s.meta = &m
		}
		delete(t.metaCache, fileID)
	}
	if old := t.recvs[fileID]; old != nil {
		old.resolve(sessionResult{err: errSuperseded})
	}
	t.recvs[fileID] = s
	t.mu.Unlock()
	return s
}

func (t *Transport) dropSession(fileID string, s *session) {
	t.mu.Lock()
	if t.recvs[fileID] == s {
		delete(t.recvs, fileID)
	}
	t.mu.Unlock()
}

func (t *Transport) dropAcceptWait(fileID string, wait chan bool) {
	t.mu.Lock()
	if t.accepts[fileID] == wait {
		delete(t.accepts, fileID)
	}
	t.mu.Unlock()
}

func (t *Transport) handleFileMessage(env protocol.Envelope) {
	if frame := protocol.DecodeFrame(env.Payload); frame != nil {
		t.appendChunk(frame.FileID, frame.Payload)
		return
	}

	var head struct {
		Type   string `json:"type"`
		FileID string `json:"fileId"`
	}
	if err := json.Unmarshal(env.Payload, &head); err != nil {
		t.logger.Debugf("Dropping unframed %d byte payload from %s", len(env.Payload), t.PeerID())
		return
	}

	switch head.Type {
	case protocol.TypeMetadata:
		var meta protocol.Metadata
		if err := json.Unmarshal(env.Payload, &meta); err != nil {
			t.logger.Warnf("Malformed metadata from %s: %v", t.PeerID(), err)
			return
		}
		t.cacheMetadata(meta)
		t.emit(env)

	case protocol.TypeChunk:
		var chunk protocol.ChunkJSON
		if err := json.Unmarshal(env.Payload, &chunk); err != nil {
			t.logger.Warnf("Malformed chunk from %s: %v", t.PeerID(), err)
			return
		}
		t.appendChunk(chunk.FileID, chunk.Bytes)

	case protocol.TypeEnd:
		t.finishSession(head.FileID)

	case protocol.TypeAck:
		t.emit(env)

	case protocol.TypeFileAccept:
		t.resolveAccept(head.FileID, true)

	case protocol.TypeFileReject:
		t.resolveAccept(head.FileID, false)

	case protocol.TypeFileCancel:
		t.cancelSession(head.FileID)

	default:
		t.logger.Debugf("Dropping unrecognized file message type %q from %s", head.Type, t.PeerID())
	}
}

// cacheMetadata stores metadata for a transfer nobody subscribed to yet,
// or attaches it to the open session missing one.
func (t *Transport) cacheMetadata(meta protocol.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s := t.recvs[meta.FileID]; s != nil {
		if s.meta == nil {
			m := meta
			s.meta = &m
		}
		return
	}
	t.metaCache[meta.FileID] = meta
}

func (t *Transport) appendChunk(fileID string, data []byte) {
	t.mu.Lock()
	s := t.recvs[fileID]
	if s == nil {
		t.mu.Unlock()
		t.logger.Debugf("Dropping chunk for unknown transfer %s", fileID)
		return
	}

	s.chunks = append(s.chunks, data)
	s.received += int64(len(data))
	now := time.Now()
	elapsed := now.Sub(s.lastChunk)
	s.lastChunk = now

	received := s.received
	var total int64
	if s.meta != nil {
		total = s.meta.Size
	}
	onProgress := s.onProgress
	t.mu.Unlock()

	if onProgress != nil {
		var rate float64
		if elapsed > 0 {
			rate = float64(len(data)) / elapsed.Seconds()
		}
		onProgress(Progress{Transferred: received, Total: total, Rate: rate})
	}
}

func (t *Transport) finishSession(fileID string) {
	t.mu.Lock()
	s := t.recvs[fileID]
	delete(t.recvs, fileID)
	t.mu.Unlock()

	if s == nil {
		t.logger.Debugf("End for unknown transfer %s", fileID)
		return
	}
	s.resolve(sessionResult{payload: bytes.Join(s.chunks, nil)})
}

func (t *Transport) cancelSession(fileID string) {
	t.mu.Lock()
	s := t.recvs[fileID]
	delete(t.recvs, fileID)
	delete(t.metaCache, fileID)
	t.mu.Unlock()

	if s == nil {
		return
	}
	t.logger.Infof("Transfer %s cancelled by peer", fileID)
	s.resolve(sessionResult{err: ErrCancelled})
}

func (t *Transport) resolveAccept(fileID string, accepted bool) {
	t.mu.Lock()
	wait := t.accepts[fileID]
	delete(t.accepts, fileID)
	t.mu.Unlock()

	if wait == nil {
		t.logger.Debugf("Accept reply for unknown transfer %s", fileID)
		return
	}
	wait <- accepted
}
