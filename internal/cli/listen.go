package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/node"
	"github.com/ivenlau/xtrans-s/internal/peer"
	"github.com/ivenlau/xtrans-s/internal/protocol"
)

var (
	autoAccept bool
	outDir     string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay online and receive messages and files from other devices",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := buildApp(ctx, true)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		defer a.Close()

		a.log.Infof("Listening as %s (%s)", a.manager.Identity().DeviceName, a.manager.Identity().DeviceID)
		runReceiveLoop(a)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{listenCmd, inviteCmd, joinCmd} {
		cmd.Flags().BoolVarP(&autoAccept, "auto-accept", "y", false, "accept incoming files without asking")
		cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to save received files into")
	}
}

// runReceiveLoop subscribes to manager events, printing texts and handling
// file offers until the process is interrupted.
func runReceiveLoop(a *app) {
	var promptMu sync.Mutex
	cancel := a.manager.Subscribe(node.Listener{
		OnHandshake: func(ident device.Identity) {
			a.log.Infof("Device connected: %s (%s)", ident.DeviceName, ident.DeviceID)
		},
		OnMessage: func(deviceID string, env protocol.Envelope) {
			switch env.Kind {
			case protocol.KindText:
				var msg protocol.Text
				if err := json.Unmarshal(env.Payload, &msg); err != nil {
					return
				}
				fmt.Printf("[%s] %s\n", deviceID, msg.Content)
			case protocol.KindFile:
				var meta protocol.Metadata
				if err := json.Unmarshal(env.Payload, &meta); err != nil || meta.Type != protocol.TypeMetadata {
					return
				}
				go a.receiveOffered(deviceID, meta, &promptMu)
			}
		},
	})
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	a.log.Info("Shutting down")
}

// receiveOffered prompts for (or auto-accepts) an incoming file offer and
// downloads it into the output directory.
func (a *app) receiveOffered(deviceID string, meta protocol.Metadata, promptMu *sync.Mutex) {
	if !autoAccept {
		promptMu.Lock()
		ok := confirm(fmt.Sprintf("Accept %s (%d bytes) from %s?", meta.Name, meta.Size, deviceID))
		promptMu.Unlock()
		if !ok {
			if err := a.manager.RejectFile(deviceID, meta.FileID); err != nil {
				a.log.Warnf("Failed to reject file %s: %v", meta.FileID, err)
			}
			return
		}
	}

	bar := progressbar.DefaultBytes(meta.Size, "receiving "+meta.Name)
	payload, err := a.manager.ReceiveFile(context.Background(), deviceID, meta.FileID, &meta, func(p peer.Progress) {
		_ = bar.Set64(p.Transferred)
	})
	_ = bar.Finish()
	if err != nil {
		a.log.Errorf("Receiving %s failed: %v", meta.Name, err)
		return
	}

	path := filepath.Join(outDir, filepath.Base(meta.Name))
	if err := os.WriteFile(path, payload, 0644); err != nil {
		a.log.Errorf("Failed to save %s: %v", path, err)
		return
	}
	a.log.Infof("Saved %s (%d bytes)", path, len(payload))
}
