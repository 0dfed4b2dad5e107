package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ivenlau/xtrans-s/internal/node"
	"github.com/ivenlau/xtrans-s/internal/protocol"
	"github.com/ivenlau/xtrans-s/internal/registry"
	"github.com/ivenlau/xtrans-s/internal/sdp"
	"github.com/ivenlau/xtrans-s/internal/signaling"
	"github.com/ivenlau/xtrans-s/internal/transport"
	"github.com/ivenlau/xtrans-s/internal/transport/mem"
)

// TestManualInviteExchange runs the whole invite flow over a channel pair:
// offer compressed into a code, reply code applied back, both managers
// rekeying their provisional ids once handshakes land.
func TestManualInviteExchange(t *testing.T) {
	net := NewTestNetwork(t)
	host := net.NewManager("host-device")
	guest := net.NewManager("guest-device")

	chHost, chGuest := mem.NewPair()
	ctx := context.Background()

	provisionalHost := signaling.NextManualID()
	trHost := host.AdoptChannel(provisionalHost, chHost, transport.KindMem)

	code, err := signaling.CreateInvite(ctx, chHost)
	if err != nil {
		t.Fatalf("CreateInvite failed: %v", err)
	}
	if !sdp.IsCompressed(code) {
		t.Errorf("invite code %q is missing the version prefix", code)
	}

	provisionalGuest := signaling.NextManualID()
	trGuest := guest.AdoptChannel(provisionalGuest, chGuest, transport.KindMem)

	reply, err := signaling.AcceptInvite(ctx, chGuest, code)
	if err != nil {
		t.Fatalf("AcceptInvite failed: %v", err)
	}
	if err := signaling.CompleteInvite(chHost, reply); err != nil {
		t.Fatalf("CompleteInvite failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := trHost.WaitReady(waitCtx); err != nil {
		t.Fatalf("host channel never came up: %v", err)
	}
	if err := trGuest.WaitReady(waitCtx); err != nil {
		t.Fatalf("guest channel never came up: %v", err)
	}

	waitForStatus(t, host, "guest-device", registry.StatusConnected)
	waitForStatus(t, guest, "host-device", registry.StatusConnected)

	if _, err := host.State(provisionalHost); err != registry.ErrNotFound {
		t.Errorf("expected provisional id gone after remap, got %v", err)
	}
	if _, err := guest.State(provisionalGuest); err != registry.ErrNotFound {
		t.Errorf("expected provisional id gone after remap, got %v", err)
	}

	texts := make(chan string, 1)
	cancelSub := guest.Subscribe(node.Listener{
		OnMessage: func(deviceID string, env protocol.Envelope) {
			if env.Kind != protocol.KindText {
				return
			}
			var msg protocol.Text
			if err := json.Unmarshal(env.Payload, &msg); err == nil {
				texts <- msg.Content
			}
		},
	})
	defer cancelSub()

	if _, err := host.SendText("guest-device", "paired manually"); err != nil {
		t.Fatalf("SendText after remap failed: %v", err)
	}
	select {
	case content := <-texts:
		if content != "paired manually" {
			t.Errorf("unexpected text %q", content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("text never arrived after the manual pairing")
	}
}
