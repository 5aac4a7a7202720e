package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/dedup"
	"github.com/beam-cloud/synopsis/pkg/mailbox"
	"github.com/beam-cloud/synopsis/pkg/types"
)

var ErrIngestInProgress = errors.New("an ingest is already running for this owner")

// Lister pages through a mailbox
type Lister interface {
	ListMessageIds(ctx context.Context, token, pageToken string, pageSize int64) (*mailbox.MessagePage, error)
}

// MessageFetcher retrieves and normalizes full messages
type MessageFetcher interface {
	FetchFullMessages(ctx context.Context, token string, ids []string) ([]*types.NormalizedMessage, *mailbox.FetchStats, error)
}

// Filter drops messages that already have a stored synopsis
type Filter interface {
	FilterNew(ctx context.Context, items []types.WorkItem) ([]types.WorkItem, []types.FailedMessage)
}

// Runner processes a batch inline
type Runner interface {
	Run(ctx context.Context, items []types.WorkItem, start types.Delays) *types.BatchOutcome
	BaseDelays() types.Delays
	InlineThreshold() int
}

// Backlog holds batches too large to process inline
type Backlog interface {
	Enqueue(ownerId string, msgs []*types.NormalizedMessage) types.EnqueueResult
	EnqueueDeferred(ownerId string, msgs []*types.NormalizedMessage, notBefore time.Time) types.EnqueueResult
	Stats() types.QueueStats
}

// Locker serializes ingests per owner
type Locker interface {
	Acquire(ctx context.Context, key string, opts common.RedisLockOptions) error
	Release(key string) error
}

// Pipeline runs list, fetch, dedup and then either inline synopsis
// generation or hand-off to the background queue
type Pipeline struct {
	lister  Lister
	fetcher MessageFetcher
	filter  Filter
	runner  Runner
	backlog Backlog
	clock   common.Clock

	locker  Locker
	lockTTL time.Duration

	defaultPageSize int64

	mu     sync.Mutex
	delays types.Delays
}

type Option func(*Pipeline)

// WithLocker holds a per-owner lock for the duration of each ingest
func WithLocker(locker Locker, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.locker = locker
		p.lockTTL = ttl
	}
}

// WithDefaultPageSize sets the page size used when a caller passes zero
func WithDefaultPageSize(n int64) Option {
	return func(p *Pipeline) {
		p.defaultPageSize = n
	}
}

func New(lister Lister, fetcher MessageFetcher, filter Filter, runner Runner, backlog Backlog, clock common.Clock, opts ...Option) *Pipeline {
	p := &Pipeline{
		lister:          lister,
		fetcher:         fetcher,
		filter:          filter,
		runner:          runner,
		backlog:         backlog,
		clock:           clock,
		lockTTL:         2 * time.Minute,
		defaultPageSize: 20,
		delays:          runner.BaseDelays(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// QueueStats returns the background queue's current state
func (p *Pipeline) QueueStats() types.QueueStats {
	return p.backlog.Stats()
}

// IngestAndProcess reads one page of the owner's mailbox and produces
// synopses for the messages not seen before. Small batches are processed
// inline; larger ones are queued. Auth and permission failures are returned
// as errors, every other per-message outcome is reported in the result.
func (p *Pipeline) IngestAndProcess(ctx context.Context, owner *types.Identity, pageSize int64, pageToken string) (*types.IngestResult, error) {
	if owner == nil || owner.MailboxToken == "" {
		return nil, &types.UnauthenticatedError{Reason: "no mailbox token"}
	}
	if pageSize <= 0 {
		pageSize = p.defaultPageSize
	}

	if p.locker != nil {
		release, err := p.lock(ctx, owner.Id)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	start := p.clock.Now()
	result := &types.IngestResult{
		Messages:         []types.ProcessedMessage{},
		ProcessingErrors: []types.ProcessingError{},
	}

	page, err := p.lister.ListMessageIds(ctx, owner.MailboxToken, pageToken, pageSize)
	if err != nil {
		if rl, ok := types.AsRateLimited(err); ok {
			result.RateLimitInfo = types.QuotaInfoFrom(rl)
			return result, nil
		}
		return nil, err
	}
	result.NextPageToken = page.NextPageToken

	msgs, fetchStats, err := p.fetcher.FetchFullMessages(ctx, owner.MailboxToken, page.Ids)
	if err != nil {
		return nil, err
	}
	result.ProcessingErrors = append(result.ProcessingErrors, missingFetches(page.Ids, msgs)...)

	items := dedup.WorkItems(owner.Id, msgs)
	fresh, checkFailures := p.filter.FilterNew(ctx, items)
	for _, f := range checkFailures {
		result.ProcessingErrors = append(result.ProcessingErrors, processingError(types.StageDedup, f))
	}
	result.Duplicates = len(items) - len(fresh) - len(checkFailures)

	switch {
	case len(fresh) == 0:
	case len(fresh) <= p.runner.InlineThreshold():
		if err := p.processInline(ctx, owner.Id, fresh, result); err != nil {
			return nil, err
		}
	default:
		enqueued := p.backlog.Enqueue(owner.Id, messagesOf(fresh))
		result.Enqueued = &enqueued
		stats := p.backlog.Stats()
		result.QueueStats = &stats
	}

	log.Info().
		Str("owner_id", owner.Id).
		Int("listed", len(page.Ids)).
		Int("fetched", fetchStats.Fetched).
		Int("new", len(fresh)).
		Int("duplicates", result.Duplicates).
		Int("synopses", len(result.Messages)).
		Int("errors", len(result.ProcessingErrors)).
		Bool("queued", result.Enqueued != nil).
		Dur("duration", p.clock.Now().Sub(start)).
		Msg("ingest complete")

	return result, nil
}

func (p *Pipeline) processInline(ctx context.Context, ownerId string, items []types.WorkItem, result *types.IngestResult) error {
	p.mu.Lock()
	start := p.delays
	p.mu.Unlock()

	outcome := p.runner.Run(ctx, items, start)

	p.mu.Lock()
	p.delays = outcome.CurrentDelays
	p.mu.Unlock()

	if outcome.Aborted != nil {
		return outcome.Aborted
	}

	result.Messages = append(result.Messages, outcome.Successful...)
	for _, s := range outcome.Skipped {
		result.Skipped = append(result.Skipped, s.Item.Message.Id)
	}

	var retry []*types.NormalizedMessage
	for _, f := range outcome.Failed {
		if f.IsRateLimit && outcome.RateLimited() {
			retry = append(retry, f.Item.Message)
			continue
		}
		result.ProcessingErrors = append(result.ProcessingErrors, processingError(types.StageSynopsis, f))
	}

	if !outcome.RateLimited() {
		return nil
	}

	result.RateLimitInfo = outcome.QuotaInfo
	retry = append(retry, messagesOf(outcome.Deferred)...)
	if len(retry) == 0 {
		return nil
	}

	notBefore := p.clock.Now()
	if outcome.QuotaInfo != nil {
		notBefore = notBefore.Add(outcome.QuotaInfo.RetryAfter)
	}
	enqueued := p.backlog.EnqueueDeferred(ownerId, retry, notBefore)
	result.Enqueued = &enqueued
	if enqueued.Rejected > 0 {
		log.Warn().Str("owner_id", ownerId).Int("rejected", enqueued.Rejected).Msg("queue full, dropping rate limited messages")
	}

	stats := p.backlog.Stats()
	result.QueueStats = &stats
	return nil
}

func (p *Pipeline) lock(ctx context.Context, ownerId string) (func(), error) {
	key := common.Keys.IngestLock(ownerId)
	err := p.locker.Acquire(ctx, key, common.RedisLockOptions{TtlS: int(p.lockTTL.Seconds())})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrIngestInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}

	return func() {
		if err := p.locker.Release(key); err != nil {
			log.Warn().Str("owner_id", ownerId).Err(err).Msg("failed to release ingest lock")
		}
	}, nil
}

// missingFetches reports listed ids the fetcher dropped
func missingFetches(ids []string, msgs []*types.NormalizedMessage) []types.ProcessingError {
	got := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		got[m.Id] = struct{}{}
	}

	var out []types.ProcessingError
	for _, id := range ids {
		if _, ok := got[id]; ok {
			continue
		}
		out = append(out, types.ProcessingError{
			MessageId: id,
			Stage:     types.StageFetch,
			Kind:      types.ErrorKindUnknown,
			Error:     "message could not be fetched",
		})
	}
	return out
}

func processingError(stage string, f types.FailedMessage) types.ProcessingError {
	pe := types.ProcessingError{
		MessageId: f.Item.Message.Id,
		Stage:     stage,
		Kind:      types.KindOf(f.Err),
	}
	if f.Err != nil {
		pe.Error = f.Err.Error()
	}
	return pe
}

func messagesOf(items []types.WorkItem) []*types.NormalizedMessage {
	out := make([]*types.NormalizedMessage, len(items))
	for i, item := range items {
		out[i] = item.Message
	}
	return out
}
