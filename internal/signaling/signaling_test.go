package signaling_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ivenlau/xtrans-s/internal/sdp"
	"github.com/ivenlau/xtrans-s/internal/signaling"
	"github.com/ivenlau/xtrans-s/internal/transport"
	"github.com/ivenlau/xtrans-s/internal/transport/mem"
)

func startServer(t *testing.T) string {
	t.Helper()
	srv := signaling.NewServer(signaling.Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, serverURL, deviceID string) *signaling.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := signaling.Dial(ctx, serverURL, deviceID, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSignalRouting(t *testing.T) {
	serverURL := startServer(t)
	a := dial(t, serverURL, "device-a")
	b := dial(t, serverURL, "device-b")

	err := a.SendSignal(context.Background(), transport.Signal{
		To:      "device-b",
		Kind:    transport.SignalOffer,
		Payload: "offer-payload",
	})
	if err != nil {
		t.Fatalf("SendSignal failed: %v", err)
	}

	select {
	case sig := <-b.RecvSignal():
		if sig.From != "device-a" {
			t.Errorf("expected signal from device-a, got %q", sig.From)
		}
		if sig.Kind != transport.SignalOffer {
			t.Errorf("expected offer, got %q", sig.Kind)
		}
		if sig.Payload != "offer-payload" {
			t.Errorf("unexpected payload %q", sig.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal never arrived")
	}
}

func TestRelayRouting(t *testing.T) {
	serverURL := startServer(t)
	a := dial(t, serverURL, "device-a")
	b := dial(t, serverURL, "device-b")

	body := []byte{0x01, 0x02, 0x03}
	if err := a.SendRelay(context.Background(), "device-b", signaling.EventData, body); err != nil {
		t.Fatalf("SendRelay failed: %v", err)
	}

	select {
	case d := <-b.RecvRelay():
		if d.From != "device-a" {
			t.Errorf("expected delivery from device-a, got %q", d.From)
		}
		if d.Event != signaling.EventData {
			t.Errorf("expected data event, got %q", d.Event)
		}
		if !bytes.Equal(d.Body, body) {
			t.Errorf("expected body %v, got %v", body, d.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestRelayUnreachable(t *testing.T) {
	serverURL := startServer(t)
	a := dial(t, serverURL, "device-a")

	if err := a.SendRelay(context.Background(), "ghost", signaling.EventOpen, nil); err != nil {
		t.Fatalf("SendRelay failed: %v", err)
	}

	select {
	case d := <-a.RecvRelay():
		if d.Event != signaling.EventUnreachable {
			t.Errorf("expected unreachable, got %q", d.Event)
		}
		if d.From != "ghost" {
			t.Errorf("expected reply about ghost, got %q", d.From)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no unreachable reply")
	}
}

func TestSendAfterClose(t *testing.T) {
	serverURL := startServer(t)
	a := dial(t, serverURL, "device-a")
	_ = a.Close()

	err := a.SendSignal(context.Background(), transport.Signal{To: "device-b", Kind: transport.SignalOffer})
	if err == nil {
		t.Error("expected error sending on closed client")
	}
}

func TestInviteFlow(t *testing.T) {
	ctx := context.Background()
	inviter, joiner := mem.NewPair()
	defer inviter.Close()

	code, err := signaling.CreateInvite(ctx, inviter)
	if err != nil {
		t.Fatalf("CreateInvite failed: %v", err)
	}
	if !strings.HasPrefix(code, sdp.Prefix) {
		t.Errorf("expected compressed invite code, got %q", code)
	}

	reply, err := signaling.AcceptInvite(ctx, joiner, code+"\n")
	if err != nil {
		t.Fatalf("AcceptInvite failed: %v", err)
	}

	if err := signaling.CompleteInvite(inviter, reply); err != nil {
		t.Fatalf("CompleteInvite failed: %v", err)
	}

	if inviter.State() != transport.StateConnected {
		t.Errorf("expected inviter connected, got %v", inviter.State())
	}
	if joiner.State() != transport.StateConnected {
		t.Errorf("expected joiner connected, got %v", joiner.State())
	}
}

func TestAcceptInviteBadCode(t *testing.T) {
	_, joiner := mem.NewPair()
	defer joiner.Close()

	if _, err := signaling.AcceptInvite(context.Background(), joiner, "garbage"); err == nil {
		t.Error("expected error for unrecognized invite code")
	}
}

func TestNextManualID(t *testing.T) {
	first := signaling.NextManualID()
	second := signaling.NextManualID()

	if !strings.HasPrefix(first, "manual-temp-") {
		t.Errorf("unexpected provisional id %q", first)
	}
	if first == second {
		t.Errorf("expected unique provisional ids, got %q twice", first)
	}
}
