package cli

import (
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the background queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := getClient().QueueStats(cmd.Context())
		if err != nil {
			return err
		}
		PrintQueueStats(stats)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueStatsCmd)
}
