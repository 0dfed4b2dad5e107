package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivenlau/xtrans-s/internal/store"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices seen so far",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := store.NewDB(dbPath)
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		devices := store.NewDeviceStore(db)

		list, err := devices.List()
		if err != nil {
			fmt.Println("Error:", err)
			return
		}
		if len(list) == 0 {
			fmt.Println("no devices yet")
			return
		}
		for _, d := range list {
			state := "offline"
			if d.Online {
				state = "online"
			}
			fmt.Printf("%s  %-20s %-8s %s  last seen %s\n",
				d.DeviceID, d.Name, state, d.Platform, formatMillis(d.LastSeen))
		}
	},
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}
