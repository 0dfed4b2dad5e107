package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivenlau/xtrans-s/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent file transfers",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := store.NewDB(dbPath)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		transfers := store.NewTransferStore(db)

		list, err := transfers.Recent(historyLimit)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		if len(list) == 0 {
			fmt.Println("no transfers yet")
			return
		}
		for _, tr := range list {
			line := fmt.Sprintf("%s  %-7s %-8s %s (%d bytes) with %s",
				formatMillis(tr.StartedAt), tr.Direction, tr.Status, tr.Name, tr.Size, tr.DeviceID)
			if tr.Error != "" {
				line += ": " + tr.Error
			}
			fmt.Println(line)
		}
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of transfers to show")
}
