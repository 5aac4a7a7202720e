package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/repository"
	"github.com/beam-cloud/synopsis/pkg/types"
)

var (
	ErrDrainInProgress = errors.New("drain already in progress")
	ErrShutdown        = errors.New("queue is shut down")
	ErrAlreadyStarted  = errors.New("queue already started")
)

// Runner processes one batch of work items
type Runner interface {
	Run(ctx context.Context, items []types.WorkItem, start types.Delays) *types.BatchOutcome
	BaseDelays() types.Delays
}

// Filter drops items that were already processed
type Filter interface {
	FilterNew(ctx context.Context, items []types.WorkItem) ([]types.WorkItem, []types.FailedMessage)
}

// Queue holds overflow work and drains it in small batches on a fixed
// cadence. Items and delay state are only touched through its methods.
type Queue struct {
	cfg     types.QueueConfig
	runner  Runner
	filter  Filter
	journal repository.QueueJournal
	clock   common.Clock

	mu     sync.Mutex
	items  map[string]*types.QueuedItem
	index  *priorityIndex
	delays types.Delays

	draining *atomic.Bool
	started  *atomic.Bool
	shutdown *atomic.Bool

	accepted  *atomic.Int64
	rejected  *atomic.Int64
	completed *atomic.Int64
	dropped   *atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type Option func(*Queue)

// WithJournal mirrors every item change to journal
func WithJournal(journal repository.QueueJournal) Option {
	return func(q *Queue) {
		q.journal = journal
	}
}

func New(cfg types.QueueConfig, runner Runner, filter Filter, clock common.Clock, opts ...Option) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 5 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 60 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 30 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 5 * time.Minute
	}
	if cfg.RateLimitMinDelay <= 0 {
		cfg.RateLimitMinDelay = 5 * time.Minute
	}
	if cfg.HighPriorityAge <= 0 {
		cfg.HighPriorityAge = 24 * time.Hour
	}
	if cfg.MediumPriorityAge <= 0 {
		cfg.MediumPriorityAge = 7 * 24 * time.Hour
	}

	q := &Queue{
		cfg:       cfg,
		runner:    runner,
		filter:    filter,
		clock:     clock,
		items:     make(map[string]*types.QueuedItem),
		index:     newPriorityIndex(),
		delays:    runner.BaseDelays(),
		draining:  atomic.NewBool(false),
		started:   atomic.NewBool(false),
		shutdown:  atomic.NewBool(false),
		accepted:  atomic.NewInt64(0),
		rejected:  atomic.NewInt64(0),
		completed: atomic.NewInt64(0),
		dropped:   atomic.NewInt64(0),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds messages for ownerId. Messages already queued are skipped and
// messages beyond capacity are rejected.
func (q *Queue) Enqueue(ownerId string, msgs []*types.NormalizedMessage) types.EnqueueResult {
	return q.enqueue(ownerId, msgs, nil)
}

// EnqueueDeferred is Enqueue with a first attempt no earlier than notBefore
func (q *Queue) EnqueueDeferred(ownerId string, msgs []*types.NormalizedMessage, notBefore time.Time) types.EnqueueResult {
	return q.enqueue(ownerId, msgs, &notBefore)
}

func (q *Queue) enqueue(ownerId string, msgs []*types.NormalizedMessage, notBefore *time.Time) types.EnqueueResult {
	var result types.EnqueueResult
	if q.shutdown.Load() {
		result.Rejected = len(msgs)
		q.rejected.Add(int64(result.Rejected))
		log.Warn().Str("owner_id", ownerId).Int("rejected", result.Rejected).Msg("enqueue after shutdown")
		return result
	}

	now := q.clock.Now()
	var saved []types.QueuedItem

	q.mu.Lock()
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if _, ok := q.items[msg.Id]; ok {
			result.Duplicate++
			continue
		}
		if len(q.items) >= q.cfg.Capacity {
			result.Rejected++
			continue
		}

		item := &types.QueuedItem{
			OwnerId:  ownerId,
			Message:  msg,
			AddedAt:  now,
			Priority: q.priorityFor(msg, now),
		}
		if notBefore != nil {
			at := *notBefore
			item.NextRetryAt = &at
		}

		q.items[msg.Id] = item
		q.index.add(item)
		saved = append(saved, *item)
		result.Accepted++
	}
	total := len(q.items)
	q.mu.Unlock()

	q.accepted.Add(int64(result.Accepted))
	q.rejected.Add(int64(result.Rejected))

	if result.Rejected > 0 {
		log.Warn().Str("owner_id", ownerId).Int("rejected", result.Rejected).Int("capacity", q.cfg.Capacity).Msg("queue full")
	}
	log.Info().
		Str("owner_id", ownerId).
		Int("accepted", result.Accepted).
		Int("duplicate", result.Duplicate).
		Int("total", total).
		Msg("messages queued")

	q.journalSave(context.Background(), saved)
	return result
}

func (q *Queue) priorityFor(msg *types.NormalizedMessage, now time.Time) types.Priority {
	if msg.DateReceived.IsZero() {
		return types.PriorityLow
	}
	age := now.Sub(msg.DateReceived)
	switch {
	case age < q.cfg.HighPriorityAge:
		return types.PriorityHigh
	case age < q.cfg.MediumPriorityAge:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// Stats computes a snapshot from the current queue contents
func (q *Queue) Stats() types.QueueStats {
	now := q.clock.Now()

	q.mu.Lock()
	stats := types.QueueStats{
		Total:         len(q.items),
		Capacity:      q.cfg.Capacity,
		CurrentDelays: q.delays,
	}
	var waited time.Duration
	for _, item := range q.items {
		waited += now.Sub(item.AddedAt)
		switch {
		case item.Processing:
			stats.Processing++
		case item.Due(now):
			stats.Pending++
		default:
			stats.Waiting++
		}
	}
	q.mu.Unlock()

	if stats.Total > 0 {
		stats.AverageWait = waited / time.Duration(stats.Total)
	}
	stats.Accepted = q.accepted.Load()
	stats.Rejected = q.rejected.Load()
	stats.Completed = q.completed.Load()
	stats.Dropped = q.dropped.Load()
	stats.Running = q.started.Load() && !q.shutdown.Load()
	return stats
}

// DrainInterval is the period between scheduled drain cycles
func (q *Queue) DrainInterval() time.Duration {
	return q.cfg.DrainInterval
}

// Restore loads journaled items into the queue. Items already present win.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	items, err := q.journal.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	q.mu.Lock()
	for _, item := range items {
		if _, ok := q.items[item.Message.Id]; ok || len(q.items) >= q.cfg.Capacity {
			continue
		}
		item.Processing = false
		q.items[item.Message.Id] = item
		q.index.add(item)
		restored++
	}
	q.mu.Unlock()

	if restored > 0 {
		log.Info().Int("restored", restored).Msg("restored queued messages from journal")
	}
	return restored, nil
}

// Start restores journaled items and begins draining every DrainInterval
func (q *Queue) Start(ctx context.Context) error {
	if q.shutdown.Load() {
		return ErrShutdown
	}
	if !q.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if _, err := q.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("failed to restore queue journal")
	}

	drainTicker := q.clock.NewTicker(q.cfg.DrainInterval)
	statsTicker := q.clock.NewTicker(q.cfg.StatsInterval)
	go q.loop(ctx, drainTicker, statsTicker)

	log.Info().
		Dur("drain_interval", q.cfg.DrainInterval).
		Int("batch_size", q.cfg.BatchSize).
		Int("capacity", q.cfg.Capacity).
		Msg("queue started")
	return nil
}

func (q *Queue) loop(ctx context.Context, drainTicker, statsTicker common.Ticker) {
	defer close(q.done)
	defer drainTicker.Stop()
	defer statsTicker.Stop()

	// in-flight calls are allowed to finish after ctx is canceled
	drainCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-drainTicker.C():
			if q.shutdown.Load() {
				return
			}
			if _, err := q.DrainOnce(drainCtx); err != nil && !errors.Is(err, ErrDrainInProgress) {
				log.Debug().Err(err).Msg("drain skipped")
			}
		case <-statsTicker.C():
			q.logStats()
		}
	}
}

// Shutdown stops new drain cycles and waits for the current one to finish
func (q *Queue) Shutdown(ctx context.Context) error {
	q.shutdown.Store(true)
	q.stopOnce.Do(func() { close(q.stop) })

	if !q.started.Load() {
		return nil
	}

	select {
	case <-q.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	stats := q.Stats()
	log.Info().Int("remaining", stats.Total).Int64("completed", stats.Completed).Msg("queue stopped")
	return nil
}

func (q *Queue) logStats() {
	stats := q.Stats()
	if stats.Total == 0 && stats.Completed == 0 {
		return
	}
	log.Info().
		Int("total", stats.Total).
		Int("pending", stats.Pending).
		Int("processing", stats.Processing).
		Int("waiting", stats.Waiting).
		Dur("average_wait", stats.AverageWait).
		Int64("completed", stats.Completed).
		Int64("dropped", stats.Dropped).
		Dur("group_delay", stats.CurrentDelays.Group).
		Msg("queue stats")
}

func (q *Queue) journalSave(ctx context.Context, items []types.QueuedItem) {
	if q.journal == nil {
		return
	}
	for i := range items {
		if err := q.journal.Save(ctx, &items[i]); err != nil {
			log.Warn().Str("message_id", items[i].Message.Id).Err(err).Msg("failed to journal queued message")
		}
	}
}

func (q *Queue) journalRemove(ctx context.Context, ids []string) {
	if q.journal == nil {
		return
	}
	for _, id := range ids {
		if err := q.journal.Remove(ctx, id); err != nil {
			log.Warn().Str("message_id", id).Err(err).Msg("failed to remove message from journal")
		}
	}
}
