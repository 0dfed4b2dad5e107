package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/logger"
	"github.com/ivenlau/xtrans-s/internal/node"
	"github.com/ivenlau/xtrans-s/internal/signaling"
	"github.com/ivenlau/xtrans-s/internal/store"
	"github.com/ivenlau/xtrans-s/internal/transport"
	"github.com/ivenlau/xtrans-s/internal/transport/relay"
	"github.com/ivenlau/xtrans-s/internal/transport/webrtc"
)

// app bundles everything a command needs: the running manager, the
// factories behind it and the stores commands read directly.
type app struct {
	manager   *node.Manager
	rtc       *webrtc.Factory
	signals   *signaling.Client
	devices   *store.DeviceStore
	transfers *store.TransferStore
	log       *logrus.Logger
}

func newLog() *logrus.Logger {
	if verbose {
		return logger.NewDebugLogger()
	}
	return logger.NewLogger()
}

// buildApp assembles and starts the manager. With online=true it dials
// the signaling server and configures WebRTC with relay fallback; without
// it only the manual WebRTC flow is available.
func buildApp(ctx context.Context, online bool) (*app, error) {
	log := newLog()
	ident := localIdentity()

	db, err := store.NewDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	devices := store.NewDeviceStore(db)
	transfers := store.NewTransferStore(db)

	a := &app{
		devices:   devices,
		transfers: transfers,
		log:       log,
	}

	var factories []transport.Factory
	fallbacks := []transport.Kind{}
	if online {
		signals, err := signaling.Dial(ctx, serverURL, ident.DeviceID, log)
		if err != nil {
			return nil, err
		}
		a.signals = signals
		a.rtc = webrtc.NewFactory(webrtc.Options{
			DeviceID: ident.DeviceID,
			Signaler: signals,
			Logger:   log,
		})
		factories = []transport.Factory{
			a.rtc,
			relay.NewFactory(relay.Options{DeviceID: ident.DeviceID, Carrier: signals, Logger: log}),
		}
		fallbacks = []transport.Kind{transport.KindRelay}
	} else {
		a.rtc = webrtc.NewFactory(webrtc.Options{DeviceID: ident.DeviceID, Logger: log})
		factories = []transport.Factory{a.rtc}
	}

	a.manager = node.New(node.Options{
		Identity:      ident,
		Factories:     factories,
		PreferredKind: transport.KindWebRTC,
		FallbackKinds: fallbacks,
		Logger:        log,
		Devices:       devices,
		Transfers:     transfers,
	})
	a.manager.Start()

	log.Infof("This device is %s (%s)", ident.DeviceName, ident.DeviceID)
	return a, nil
}

func (a *app) Close() {
	_ = a.manager.Close()
	if a.signals != nil {
		_ = a.signals.Close()
	}
}

// localIdentity builds the identity announced in handshakes from the
// persistent flags, generating what was not given.
func localIdentity() device.Identity {
	id := localID
	if id == "" {
		id = uuid.NewString()
	}
	name := localName
	if name == "" {
		if host, err := os.Hostname(); err == nil {
			name = host
		} else {
			name = "xtrans"
		}
	}
	return device.Identity{
		DeviceID:   id,
		DeviceName: name,
		DeviceType: "desktop",
		Platform:   runtime.GOOS,
		Online:     true,
		LastSeen:   device.NowMillis(),
	}
}
