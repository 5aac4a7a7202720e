package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/gateway"
	"github.com/beam-cloud/synopsis/pkg/queue"
	"github.com/beam-cloud/synopsis/pkg/types"
)

var (
	ingestPageSize     int64
	ingestPageToken    string
	ingestLocal        bool
	ingestOwner        string
	ingestMailboxToken string
	ingestDrain        bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Analyze one page of the mailbox",
	Long: `Fetch one page of mail, drop messages that were already analyzed and
generate a synopsis for the rest.

By default the request goes to the gateway for the session's owner. With
--local the pipeline runs in this process against the configured stores.`,
	Example: `  synopsis ingest --page-size 50
  synopsis ingest --local --owner me --mailbox-token "$TOKEN" --drain`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestPageSize, "page-size", 0, "Messages to list (0 uses the configured default)")
	ingestCmd.Flags().StringVar(&ingestPageToken, "page-token", "", "Continue from a previous page")
	ingestCmd.Flags().BoolVar(&ingestLocal, "local", false, "Run the pipeline in this process")
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "local", "Owner id for --local runs")
	ingestCmd.Flags().StringVar(&ingestMailboxToken, "mailbox-token", os.Getenv("SYNOPSIS_MAILBOX_TOKEN"), "Mailbox access token for --local runs")
	ingestCmd.Flags().BoolVar(&ingestDrain, "drain", false, "Wait for queued messages to be processed (--local only)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !ingestLocal {
		result, err := getClient().Ingest(ctx, ingestPageSize, ingestPageToken)
		if err != nil {
			return err
		}
		PrintIngestResult(result)
		return nil
	}

	if ingestMailboxToken == "" {
		return errors.New("--mailbox-token is required with --local")
	}

	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return err
	}
	config := configManager.GetConfig()
	if !config.DebugMode {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	gw, err := gateway.New(config)
	if err != nil {
		return err
	}
	defer gw.Shutdown()

	owner := &types.Identity{Id: ingestOwner, MailboxToken: ingestMailboxToken}
	if !outputJSON {
		PrintInfof("Running pipeline locally for %s", CodeStyle.Render(owner.Id))
	}
	result, err := gw.Pipeline().IngestAndProcess(ctx, owner, ingestPageSize, ingestPageToken)
	if err != nil {
		return err
	}
	PrintIngestResult(result)

	if ingestDrain && result.Enqueued != nil && result.Enqueued.Accepted > 0 {
		if err := drainQueue(ctx, gw.Queue(), common.NewRealClock()); err != nil {
			return err
		}
		stats := gw.Queue().Stats()
		if !outputJSON {
			PrintSuccessf("Queue drained, %d completed", stats.Completed)
		}
		PrintQueueStats(&stats)
	}
	return nil
}

// drainQueue runs drain cycles until nothing is left, sleeping through
// retry windows
func drainQueue(ctx context.Context, q *queue.Queue, clock common.Clock) error {
	interval := q.DrainInterval()
	for {
		result, err := q.DrainOnce(ctx)
		if err != nil && !errors.Is(err, queue.ErrDrainInProgress) {
			return err
		}
		if result != nil && result.Outcome != nil && result.Outcome.Aborted != nil {
			return result.Outcome.Aborted
		}

		stats := q.Stats()
		if stats.Total == 0 {
			return nil
		}
		log.Debug().Int("remaining", stats.Total).Int("waiting", stats.Waiting).Msg("draining queue")

		if err := clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}
