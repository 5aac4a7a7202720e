package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var synopsesLimit int

var synopsesCmd = &cobra.Command{
	Use:     "synopses",
	Aliases: []string{"ls"},
	Short:   "List analyzed messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := getClient().ListSynopses(cmd.Context(), synopsesLimit)
		if err != nil {
			return err
		}
		PrintSynopses(list, time.Now())
		return nil
	},
}

var synopsesShowCmd = &cobra.Command{
	Use:   "show <message-id>",
	Short: "Show one synopsis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getClient().GetSynopsis(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if PrintJSON(s) {
			return nil
		}

		PrintHeader(s.Subject)
		PrintKeyValue("From", s.Sender)
		PrintKeyValue("Received", s.DateReceived.Format(time.RFC1123))
		PrintKeyValue("Urgency", UrgencyStyle(s.Urgency).Render(fmt.Sprintf("%s (%d)", s.Urgency, s.Synopsis.UrgencyScore)))
		PrintKeyValue("Type", s.Synopsis.Classification)
		if s.Synopsis.Action != "" {
			PrintKeyValue("Action", s.Synopsis.Action)
		}
		if len(s.Synopsis.Keywords) > 0 {
			PrintKeyValue("Keywords", strings.Join(s.Synopsis.Keywords, ", "))
		}
		PrintKeyValue("Link", CodeStyle.Render(s.SourceURL))
		fmt.Printf("\n  %s\n\n", s.Synopsis.Summary)
		return nil
	},
}

func init() {
	synopsesCmd.Flags().IntVar(&synopsesLimit, "limit", 20, "Maximum synopses to list")
	synopsesCmd.AddCommand(synopsesShowCmd)
}
