package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivenlau/xtrans-s/internal/signaling"
	"github.com/ivenlau/xtrans-s/internal/transport"
)

// manualReadyTimeout bounds how long the invite flow waits for the data
// channel after the codes have been exchanged.
const manualReadyTimeout = 60 * time.Second

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Create an invite code to connect without a signaling server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a, err := buildApp(ctx, false)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		defer a.Close()

		provisional := signaling.NextManualID()
		ch, err := a.rtc.NewChannel(provisional, true)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}

		code, err := signaling.CreateInvite(ctx, ch)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		tr := a.manager.AdoptChannel(provisional, ch, transport.KindWebRTC)

		fmt.Println("Give this invite code to the other device:")
		fmt.Println()
		fmt.Println(code)
		fmt.Println()
		fmt.Print("Paste the reply code here: ")
		reply, err := readLine()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		if err := signaling.CompleteInvite(ch, reply); err != nil {
			fmt.Println("Error:", err)
			return
		}

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
