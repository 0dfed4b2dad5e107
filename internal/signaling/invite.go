package signaling

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ivenlau/xtrans-s/internal/sdp"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

// Manual invites connect two devices with no server between them: one
// side produces a compact code, the other pastes it back. Codes are
// pruned, compressed descriptions from the sdp package.

var manualSeq atomic.Int64

// NextManualID returns a provisional device id for a manually invited
// peer. The registry rekeys it to the real id once the peer's handshake
// arrives.
func NextManualID() string {
	return fmt.Sprintf("manual-temp-%d", manualSeq.Add(1))
}

// CreateInvite starts a manual connection on ch and returns the invite
// code to hand to the other device.
func CreateInvite(ctx context.Context, ch transport.Channel) (string, error) {
	offer, err := ch.CreateOffer(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return sdp.Compress(offer)
}

// AcceptInvite consumes an invite code on the answering device and
// returns the reply code to hand back.
func AcceptInvite(ctx context.Context, ch transport.Channel, code string) (string, error) {
	offer, err := sdp.Decompress(strings.TrimSpace(code))
	if err != nil {
		return "", err
	}
	if err := ch.SetRemoteDescription(offer); err != nil {
		return "", err
	}

	answer, err := ch.CreateAnswer(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return sdp.Compress(answer)
}

// CompleteInvite applies the reply code on the inviting device.
func CompleteInvite(ch transport.Channel, code string) error {
	answer, err := sdp.Decompress(strings.TrimSpace(code))
	if err != nil {
		return err
	}
	return ch.SetRemoteDescription(answer)
}
