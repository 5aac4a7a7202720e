package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// DrainResult summarizes one drain cycle
type DrainResult struct {
	Selected  int
	Completed int
	Retrying  int
	Dropped   int
	Deferred  int
	Outcome   *types.BatchOutcome
}

// DrainOnce runs a single cycle: select due items, drop those already
// persisted, run the rest and apply the retry rules. It returns
// ErrDrainInProgress instead of overlapping with another cycle.
func (q *Queue) DrainOnce(ctx context.Context) (*DrainResult, error) {
	if q.shutdown.Load() {
		return nil, ErrShutdown
	}
	if !q.draining.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	batch, delays := q.selectBatch()
	result := &DrainResult{Selected: len(batch)}
	if len(batch) == 0 {
		return result, nil
	}

	work := make([]types.WorkItem, len(batch))
	for i, item := range batch {
		work[i] = types.WorkItem{OwnerId: item.OwnerId, Message: item.Message}
	}

	fresh, checkFailures := q.filter.FilterNew(ctx, work)

	var outcome *types.BatchOutcome
	if len(fresh) > 0 {
		outcome = q.runner.Run(ctx, fresh, delays)
	} else {
		outcome = &types.BatchOutcome{State: types.RunStateCompleted, CurrentDelays: delays}
	}
	outcome.Failed = append(outcome.Failed, checkFailures...)
	result.Outcome = outcome

	q.apply(ctx, batch, fresh, outcome, result)

	log.Info().
		Int("selected", result.Selected).
		Int("completed", result.Completed).
		Int("retrying", result.Retrying).
		Int("dropped", result.Dropped).
		Int("deferred", result.Deferred).
		Str("state", string(outcome.State)).
		Msg("queue drain finished")

	return result, nil
}

// selectBatch marks up to BatchSize due items as processing
func (q *Queue) selectBatch() ([]*types.QueuedItem, types.Delays) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.index.take(q.cfg.BatchSize, func(id string) bool {
		item, ok := q.items[id]
		return ok && item.Due(now)
	})

	batch := make([]*types.QueuedItem, 0, len(ids))
	for _, id := range ids {
		item := q.items[id]
		attempted := now
		item.Processing = true
		item.LastAttemptAt = &attempted
		batch = append(batch, item)
	}
	return batch, q.delays
}

// apply moves every selected item to its next state
func (q *Queue) apply(ctx context.Context, batch []*types.QueuedItem, fresh []types.WorkItem, outcome *types.BatchOutcome, result *DrainResult) {
	now := q.clock.Now()

	settled := make(map[string]bool, len(batch))
	var removed []string
	var saved []types.QueuedItem

	q.mu.Lock()
	q.delays = outcome.CurrentDelays

	complete := func(id string) {
		if settled[id] {
			return
		}
		settled[id] = true
		q.removeLocked(id)
		removed = append(removed, id)
		q.completed.Inc()
		result.Completed++
	}

	for _, p := range outcome.Successful {
		complete(p.Message.Id)
	}
	for _, s := range outcome.Skipped {
		complete(s.Item.Message.Id)
	}

	for _, f := range outcome.Failed {
		id := f.Item.Message.Id
		item, ok := q.items[id]
		if !ok || settled[id] {
			continue
		}
		settled[id] = true

		item.RetryCount++
		item.LastError = f.Err.Error()
		if item.RetryCount >= q.cfg.MaxRetries {
			q.removeLocked(id)
			removed = append(removed, id)
			q.dropped.Inc()
			result.Dropped++
			log.Error().
				Str("message_id", id).
				Str("owner_id", item.OwnerId).
				Int("retry_count", item.RetryCount).
				Err(f.Err).
				Msg("dropping message after max retries")
			continue
		}

		next := now.Add(q.retryDelay(item.RetryCount, f.IsRateLimit))
		item.NextRetryAt = &next
		item.Processing = false
		q.index.add(item)
		saved = append(saved, *item)
		result.Retrying++
	}

	var retryAfter time.Duration
	if outcome.QuotaInfo != nil {
		retryAfter = outcome.QuotaInfo.RetryAfter
	}
	deferUntil := now.Add(max(retryAfter, outcome.CurrentDelays.Group))
	for _, w := range outcome.Deferred {
		id := w.Message.Id
		item, ok := q.items[id]
		if !ok || settled[id] {
			continue
		}
		settled[id] = true
		at := deferUntil
		item.NextRetryAt = &at
		item.Processing = false
		q.index.add(item)
		saved = append(saved, *item)
		result.Deferred++
	}

	// anything the filter let through is accounted for above; the rest of
	// the batch was already persisted
	inFresh := make(map[string]bool, len(fresh))
	for _, w := range fresh {
		inFresh[w.Message.Id] = true
	}
	for _, item := range batch {
		id := item.Message.Id
		if settled[id] {
			continue
		}
		if inFresh[id] {
			// not reported by the run; release it for the next cycle
			item.Processing = false
			q.index.add(item)
			saved = append(saved, *item)
			continue
		}
		complete(id)
	}
	q.mu.Unlock()

	q.journalRemove(ctx, removed)
	q.journalSave(ctx, saved)
}

// retryDelay is base*2^(retryCount-1) capped at MaxRetryDelay. Rate limit
// failures wait at least RateLimitMinDelay.
func (q *Queue) retryDelay(retryCount int, rateLimited bool) time.Duration {
	delay := common.Backoff(q.cfg.RetryBaseDelay, q.cfg.MaxRetryDelay, retryCount-1)
	if rateLimited && delay < q.cfg.RateLimitMinDelay {
		delay = q.cfg.RateLimitMinDelay
	}
	return delay
}

func (q *Queue) removeLocked(id string) {
	delete(q.items, id)
	q.index.remove(id)
}
