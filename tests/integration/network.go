// Package integration exercises whole connection flows: managers talking
// over in-memory transports, and relay channels carried by a real
// signaling server.
package integration

import (
	"testing"
	"time"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/node"
	"github.com/ivenlau/xtrans-s/internal/registry"
	"github.com/ivenlau/xtrans-s/internal/transport"
	"github.com/ivenlau/xtrans-s/internal/transport/mem"
)

// Network wires managers together through one in-memory hub so
// scenarios run without sockets.
type Network struct {
	t   *testing.T
	hub *mem.Hub
}

func NewTestNetwork(t *testing.T) *Network {
	t.Helper()
	return &Network{t: t, hub: mem.NewHub()}
}

// NewManager starts a manager joined to the network as deviceID and
// registers its shutdown with the test cleanup.
func (n *Network) NewManager(deviceID string) *node.Manager {
	n.t.Helper()

	m := node.New(node.Options{
		Identity: device.Identity{
			DeviceID:   deviceID,
			DeviceName: "net-" + deviceID,
			DeviceType: "desktop",
			Platform:   "linux",
		},
		Factories:      []transport.Factory{n.hub.Factory(deviceID)},
		PreferredKind:  transport.KindMem,
		ConnectTimeout: 5 * time.Second,
	})
	m.Start()
	n.t.Cleanup(func() { _ = m.Close() })
	return m
}

// waitForStatus polls until deviceID reaches want on m.
func waitForStatus(t *testing.T, m *node.Manager, deviceID string, want registry.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s, err := m.State(deviceID); err == nil && s.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("device %s never became %s on this manager", deviceID, want)
}
