package cli

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	localID   string
	localName string
	dbPath    string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:  `xtrans`,
	Long: `xtrans transfers files directly between devices, falling back to a relay when no direct path exists`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "ws://localhost:8575/ws", "signaling server url")
	rootCmd.PersistentFlags().StringVar(&localID, "device-id", "", "this device's id, generated when empty")
	rootCmd.PersistentFlags().StringVar(&localName, "device-name", "", "name shown to peers, hostname when empty")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "xtrans.sqlite3", "path of the device and history database")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(joinCmd)
}
