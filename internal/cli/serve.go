package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivenlau/xtrans-s/internal/signaling"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a signaling server",
	Long:  `runs the rendezvous server that exchanges connection offers between devices and relays traffic for devices without a direct path`,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLog()
		srv := signaling.NewServer(signaling.Config{
			Addr:   serveAddr,
			Logger: log,
		})

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-sigChan
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()

		if err := srv.Start(); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8575", "listen address")
}
