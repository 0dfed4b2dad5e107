package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/node"
	"github.com/ivenlau/xtrans-s/internal/protocol"
	"github.com/ivenlau/xtrans-s/internal/registry"
)

func TestFileTransferBetweenManagers(t *testing.T) {
	net := NewTestNetwork(t)
	alpha := net.NewManager("alpha")
	beta := net.NewManager("beta")

	type outcome struct {
		payload []byte
		err     error
	}
	received := make(chan outcome, 1)
	cancel := beta.Subscribe(node.Listener{
		OnMessage: func(deviceID string, env protocol.Envelope) {
			if env.Kind != protocol.KindFile {
				return
			}
			var meta protocol.Metadata
			if err := json.Unmarshal(env.Payload, &meta); err != nil || meta.Type != protocol.TypeMetadata {
				return
			}
			go func() {
				payload, err := beta.ReceiveFile(context.Background(), deviceID, meta.FileID, &meta, nil)
				received <- outcome{payload: payload, err: err}
			}()
		},
	})
	defer cancel()

	ctx := context.Background()
	if err := alpha.ConnectToDevice(ctx, "beta", device.Identity{}); err != nil {
		t.Fatalf("ConnectToDevice failed: %v", err)
	}
	waitForStatus(t, alpha, "beta", registry.StatusConnected)
	waitForStatus(t, beta, "alpha", registry.StatusConnected)

	payload := bytes.Repeat([]byte("integration payload "), 4096)
	if _, err := alpha.SendFile(ctx, "beta", "blob.bin", "application/octet-stream", payload, nil); err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	select {
	case got := <-received:
		if got.err != nil {
			t.Fatalf("ReceiveFile failed: %v", got.err)
		}
		if !bytes.Equal(got.payload, payload) {
			t.Fatalf("payload mismatch: got %d bytes, want %d", len(got.payload), len(payload))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("file never arrived")
	}
}

func TestTextAndPingAcrossNetwork(t *testing.T) {
	net := NewTestNetwork(t)
	alpha := net.NewManager("alpha")
	beta := net.NewManager("beta")

	texts := make(chan string, 1)
	cancel := beta.Subscribe(node.Listener{
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
	defer cancel()

	ctx := context.Background()
	if err := alpha.ConnectToDevice(ctx, "beta", device.Identity{}); err != nil {
		t.Fatalf("ConnectToDevice failed: %v", err)
	}
	waitForStatus(t, beta, "alpha", registry.StatusConnected)

	if _, err := alpha.SendText("beta", "hello across the network"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	select {
	case content := <-texts:
		if content != "hello across the network" {
			t.Errorf("unexpected text %q", content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("text never arrived")
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	rtt, err := alpha.Ping(pingCtx, "beta")
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if rtt < 0 {
		t.Errorf("negative round trip time %v", rtt)
	}

	state, err := alpha.State("beta")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.LatencyMs < 0 {
		t.Errorf("latency not recorded, got %d", state.LatencyMs)
	}
}

func TestIdentityPropagatesOnConnect(t *testing.T) {
	net := NewTestNetwork(t)
	alpha := net.NewManager("alpha")
	beta := net.NewManager("beta")

	idents := make(chan device.Identity, 4)
	cancel := beta.Subscribe(node.Listener{
		OnHandshake: func(ident device.Identity) {
			idents <- ident
		},
	})
	defer cancel()

	if err := alpha.ConnectToDevice(context.Background(), "beta", device.Identity{}); err != nil {
		t.Fatalf("ConnectToDevice failed: %v", err)
	}

	select {
	case ident := <-idents:
		if ident.DeviceID != "alpha" {
			t.Errorf("expected handshake from alpha, got %q", ident.DeviceID)
		}
		if ident.DeviceName != "net-alpha" {
			t.Errorf("expected device name net-alpha, got %q", ident.DeviceName)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handshake never arrived")
	}
}

func TestDisconnectPropagatesToPeer(t *testing.T) {
	net := NewTestNetwork(t)
	alpha := net.NewManager("alpha")
	beta := net.NewManager("beta")

	gone := make(chan registry.ConnectionState, 4)
	cancel := beta.Subscribe(node.Listener{
		OnConnectionState: func(st registry.ConnectionState) {
			if st.DeviceID == "alpha" && st.Status == registry.StatusDisconnected {
				gone <- st
			}
		},
	})
	defer cancel()

	if err := alpha.ConnectToDevice(context.Background(), "beta", device.Identity{}); err != nil {
		t.Fatalf("ConnectToDevice failed: %v", err)
	}
	waitForStatus(t, beta, "alpha", registry.StatusConnected)

	alpha.Disconnect("beta")

	if _, err := alpha.State("beta"); err != registry.ErrNotFound {
		t.Errorf("expected beta gone from alpha's registry, got %v", err)
	}
	select {
	case <-gone:
	case <-time.After(5 * time.Second):
		t.Fatal("peer never observed the disconnect")
	}
	if _, err := beta.State("alpha"); err != registry.ErrNotFound {
		t.Errorf("expected alpha gone from beta's registry, got %v", err)
	}
}
