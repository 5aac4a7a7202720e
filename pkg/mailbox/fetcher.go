package mailbox

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// MessageGetter fetches one full message
type MessageGetter interface {
	GetMessage(ctx context.Context, token, id string) (*gmail.Message, error)
}

// FetchStats summarizes one FetchFullMessages call
type FetchStats struct {
	Fetched          int
	Dropped          int
	Requeued         int
	PeakInFlight     int64
	FinalConcurrency int
}

// Fetcher retrieves message bodies with an adaptive worker pool. A rate
// limited fetch halves the pool and puts the id back; other failures drop
// the id. Sustained success grows the pool back toward its maximum.
type Fetcher struct {
	getter MessageGetter
	cfg    types.MailboxConfig
	clock  common.Clock
}

func NewFetcher(getter MessageGetter, cfg types.MailboxConfig, clock common.Clock) *Fetcher {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 10
	}
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = 1
	}
	if cfg.MinConcurrency > cfg.FetchConcurrency {
		cfg.MinConcurrency = cfg.FetchConcurrency
	}
	if cfg.SuccessesToGrow <= 0 {
		cfg.SuccessesToGrow = 5
	}
	if cfg.MaxRequeues < 0 {
		cfg.MaxRequeues = 0
	}
	return &Fetcher{getter: getter, cfg: cfg, clock: clock}
}

type fetchResult struct {
	idx int
	msg *types.NormalizedMessage
	err error
}

// FetchFullMessages fetches and normalizes ids, returning messages in input
// order. Auth and permission errors abort the call.
func (f *Fetcher) FetchFullMessages(ctx context.Context, token string, ids []string) ([]*types.NormalizedMessage, *FetchStats, error) {
	stats := &FetchStats{FinalConcurrency: f.cfg.FetchConcurrency}
	if len(ids) == 0 {
		return []*types.NormalizedMessage{}, stats, nil
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gauge := &inFlightGauge{active: atomic.NewInt64(0), peak: atomic.NewInt64(0)}

	pending := make([]int, len(ids))
	for i := range ids {
		pending[i] = i
	}

	results := make([]*types.NormalizedMessage, len(ids))
	resultCh := make(chan fetchResult, len(ids))
	requeues := make(map[int]int)

	limit := f.cfg.FetchConcurrency
	inFlight := 0
	streak := 0
	var fatal error

	for len(pending) > 0 || inFlight > 0 {
		for fatal == nil && inFlight < limit && len(pending) > 0 {
			idx := pending[0]
			pending = pending[1:]
			inFlight++
			go f.fetchOne(fetchCtx, token, ids[idx], idx, gauge, resultCh)
		}
		if inFlight == 0 {
			break
		}

		res := <-resultCh
		inFlight--

		switch {
		case res.err == nil:
			results[res.idx] = res.msg
			stats.Fetched++
			streak++
			if streak >= f.cfg.SuccessesToGrow && limit < f.cfg.FetchConcurrency {
				limit++
				streak = 0
			}

		case types.IsFatal(res.err):
			if fatal == nil {
				fatal = res.err
				cancel()
			}

		case types.IsRateLimited(res.err):
			streak = 0
			limit = max(limit/2, f.cfg.MinConcurrency)
			requeues[res.idx]++
			if requeues[res.idx] > f.cfg.MaxRequeues {
				stats.Dropped++
				log.Warn().Str("message_id", ids[res.idx]).Int("requeues", requeues[res.idx]-1).Msg("dropping message after repeated rate limits")
				continue
			}
			stats.Requeued++
			pending = append(pending, res.idx)
			log.Debug().Str("message_id", ids[res.idx]).Int("concurrency", limit).Msg("rate limited, shrinking fetch pool")

			delay := common.Backoff(f.cfg.RetryBaseDelay, f.cfg.RetryMaxDelay, requeues[res.idx]-1)
			if rl, ok := types.AsRateLimited(res.err); ok && rl.RetryAfter > delay {
				delay = min(rl.RetryAfter, max(f.cfg.RetryMaxDelay, delay))
			}
			if err := f.clock.Sleep(fetchCtx, delay); err != nil && fatal == nil {
				fatal = err
			}

		default:
			stats.Dropped++
			if fetchCtx.Err() == nil {
				log.Warn().Str("message_id", ids[res.idx]).Err(res.err).Msg("dropping message after fetch error")
			}
		}
	}

	stats.PeakInFlight = gauge.peak.Load()
	stats.FinalConcurrency = limit

	if fatal != nil {
		return nil, stats, fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	out := make([]*types.NormalizedMessage, 0, len(ids))
	for _, msg := range results {
		if msg != nil {
			out = append(out, msg)
		}
	}
	return out, stats, nil
}

// inFlightGauge tracks concurrent fetches across worker goroutines
type inFlightGauge struct {
	active *atomic.Int64
	peak   *atomic.Int64
}

func (g *inFlightGauge) enter() {
	n := g.active.Inc()
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (g *inFlightGauge) leave() {
	g.active.Dec()
}

func (f *Fetcher) fetchOne(ctx context.Context, token, id string, idx int, gauge *inFlightGauge, out chan<- fetchResult) {
	gauge.enter()
	raw, err := f.getter.GetMessage(ctx, token, id)
	gauge.leave()
	if err != nil {
		out <- fetchResult{idx: idx, err: err}
		return
	}
	msg, err := Normalize(raw)
	out <- fetchResult{idx: idx, msg: msg, err: err}
}
