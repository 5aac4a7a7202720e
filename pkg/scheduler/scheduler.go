package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// Processor produces a synopsis for one message. A nil result with a nil
// error is a skip.
type Processor interface {
	Generate(ctx context.Context, ownerId string, msg *types.NormalizedMessage) (*types.SynopsisResult, error)
}

// Scheduler runs a processor over work items in small concurrent groups,
// slowing down when the processor reports rate limits and speeding back up
// when groups finish cleanly. It holds no state between runs; callers carry
// the returned delays into their next run.
type Scheduler struct {
	processor Processor
	cfg       types.SchedulerConfig
	clock     common.Clock
}

func New(processor Processor, cfg types.SchedulerConfig, clock common.Clock) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxGroupDelay < cfg.BaseGroupDelay {
		cfg.MaxGroupDelay = cfg.BaseGroupDelay
	}
	if cfg.MaxItemDelay < cfg.BaseItemDelay {
		cfg.MaxItemDelay = cfg.BaseItemDelay
	}
	return &Scheduler{processor: processor, cfg: cfg, clock: clock}
}

// BaseDelays returns the delays a fresh run starts from
func (s *Scheduler) BaseDelays() types.Delays {
	return types.Delays{Group: s.cfg.BaseGroupDelay, Item: s.cfg.BaseItemDelay}
}

// InlineThreshold is the largest batch that should be run directly
func (s *Scheduler) InlineThreshold() int {
	return s.cfg.InlineThreshold
}

type itemResult struct {
	synopsis *types.SynopsisResult
	err      error
}

// Run processes items group by group. Every item in a group settles before
// the group is evaluated. A rate limit halts the run and grows both delays;
// an auth or permission failure halts it without touching the delays. Items
// not attempted are returned as Deferred.
func (s *Scheduler) Run(ctx context.Context, items []types.WorkItem, start types.Delays) *types.BatchOutcome {
	delays := s.clamp(start)
	outcome := &types.BatchOutcome{
		State:      types.RunStateRunning,
		Successful: []types.ProcessedMessage{},
		Failed:     []types.FailedMessage{},
		Skipped:    []types.SkippedMessage{},
		Deferred:   []types.WorkItem{},
	}

	for offset := 0; offset < len(items); offset += s.cfg.Concurrency {
		end := min(offset+s.cfg.Concurrency, len(items))
		group := items[offset:end]

		results := s.runGroup(ctx, group, delays.Item)

		var quota *types.RateLimitedError
		var fatal error
		for i, res := range results {
			item := group[i]
			switch {
			case res.err != nil:
				rl, isRateLimit := types.AsRateLimited(res.err)
				if isRateLimit && (quota == nil || rl.RetryAfter > quota.RetryAfter) {
					quota = rl
				}
				if fatal == nil && types.IsFatal(res.err) {
					fatal = res.err
				}
				outcome.Failed = append(outcome.Failed, types.FailedMessage{Item: item, Err: res.err, IsRateLimit: isRateLimit})
			case res.synopsis == nil:
				outcome.Skipped = append(outcome.Skipped, types.SkippedMessage{Item: item})
			default:
				outcome.Successful = append(outcome.Successful, types.ProcessedMessage{Message: item.Message, Synopsis: res.synopsis})
			}
		}

		remaining := items[end:]

		if quota != nil {
			delays = s.grow(delays)
			outcome.State = types.RunStateHaltedOnQuota
			outcome.QuotaInfo = types.QuotaInfoFrom(quota)
			outcome.Aborted = fatal
			outcome.Deferred = append(outcome.Deferred, remaining...)

			log.Warn().
				Int("group_size", len(group)).
				Int("deferred", len(remaining)).
				Dur("retry_after", quota.RetryAfter).
				Dur("group_delay", delays.Group).
				Dur("item_delay", delays.Item).
				Msg("rate limited, halting run")
			break
		}

		if fatal != nil {
			outcome.Aborted = fatal
			outcome.Deferred = append(outcome.Deferred, remaining...)
			log.Error().Err(fatal).Int("deferred", len(remaining)).Msg("aborting run")
			break
		}

		delays = s.decay(delays)

		if len(remaining) == 0 {
			break
		}
		if err := s.clock.Sleep(ctx, delays.Group); err != nil {
			outcome.Deferred = append(outcome.Deferred, remaining...)
			log.Warn().Err(err).Int("deferred", len(remaining)).Msg("run interrupted between groups")
			break
		}
	}

	if outcome.State == types.RunStateRunning {
		outcome.State = types.RunStateCompleted
	}
	outcome.CurrentDelays = delays

	log.Debug().
		Str("state", string(outcome.State)).
		Int("successful", len(outcome.Successful)).
		Int("failed", len(outcome.Failed)).
		Int("skipped", len(outcome.Skipped)).
		Int("deferred", len(outcome.Deferred)).
		Msg("scheduler run finished")

	return outcome
}

// runGroup starts item i after i*itemDelay and waits for all of them
func (s *Scheduler) runGroup(ctx context.Context, group []types.WorkItem, itemDelay time.Duration) []itemResult {
	results := make([]itemResult, len(group))

	var g errgroup.Group
	for i, item := range group {
		g.Go(func() error {
			if err := s.clock.Sleep(ctx, time.Duration(i)*itemDelay); err != nil {
				results[i] = itemResult{err: err}
				return nil
			}
			synopsis, err := s.processor.Generate(ctx, item.OwnerId, item.Message)
			results[i] = itemResult{synopsis: synopsis, err: err}
			return nil
		})
	}
	g.Wait()

	return results
}

func (s *Scheduler) grow(d types.Delays) types.Delays {
	return types.Delays{
		Group: min(scale(d.Group, s.cfg.BackoffMultiplier), s.cfg.MaxGroupDelay),
		Item:  min(scale(d.Item, s.cfg.BackoffMultiplier), s.cfg.MaxItemDelay),
	}
}

func (s *Scheduler) decay(d types.Delays) types.Delays {
	return types.Delays{
		Group: max(scale(d.Group, 1/s.cfg.BackoffMultiplier), s.cfg.BaseGroupDelay),
		Item:  max(scale(d.Item, 1/s.cfg.BackoffMultiplier), s.cfg.BaseItemDelay),
	}
}

// clamp keeps caller supplied delays inside [base, max]
func (s *Scheduler) clamp(d types.Delays) types.Delays {
	return types.Delays{
		Group: min(max(d.Group, s.cfg.BaseGroupDelay), s.cfg.MaxGroupDelay),
		Item:  min(max(d.Item, s.cfg.BaseItemDelay), s.cfg.MaxItemDelay),
	}
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
