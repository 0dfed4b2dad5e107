package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ivenlau/xtrans-s/internal/device"
	"github.com/ivenlau/xtrans-s/internal/peer"
)

var sendCmd = &cobra.Command{
	Use:   "send [device-id] [file]",
	Short: "Send a file to a device",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		deviceID, path := args[0], args[1]

		payload, err := os.ReadFile(path)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		ctx := context.Background()
		a, err := buildApp(ctx, true)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		defer a.Close()

		if err := a.manager.ConnectToDevice(ctx, deviceID, device.Identity{}); err != nil {
			fmt.Println("Error:", err)
			return
		}

		name := filepath.Base(path)
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		bar := progressbar.DefaultBytes(int64(len(payload)), "sending "+name)
		fileID, err := a.manager.SendFile(ctx, deviceID, name, mimeType, payload, func(p peer.Progress) {
			_ = bar.Set64(p.Transferred)
		})
		_ = bar.Finish()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		a.log.Infof("Sent %s (%d bytes, transfer %s)", name, len(payload), fileID)
	},
}
