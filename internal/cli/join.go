package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivenlau/xtrans-s/internal/signaling"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

var joinCmd = &cobra.Command{
	Use:   "join [invite-code]",
	Short: "Accept an invite code from another device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := buildApp(ctx, false)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		defer a.Close()

		provisional := signaling.NextManualID()
		ch, err := a.rtc.NewChannel(provisional, false)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		reply, err := signaling.AcceptInvite(ctx, ch, args[0])
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		tr := a.manager.AdoptChannel(provisional, ch, transport.KindWebRTC)

		fmt.Println("Give this reply code back to the inviting device:")
		fmt.Println()
		fmt.Println(reply)
		fmt.Println()

		waitCtx, cancel := context.WithTimeout(ctx, manualReadyTimeout)
		defer cancel()
		if err := tr.WaitReady(waitCtx); err != nil {
			fmt.Println("Error: connection did not come up:", err)
			return
		}

		a.log.Info("Connected, waiting for messages")
		runReceiveLoop(a)
	},
}
