package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/dedup"
	"github.com/beam-cloud/synopsis/pkg/repository"
	"github.com/beam-cloud/synopsis/pkg/types"
)

var testBase = types.Delays{Group: time.Second, Item: 200 * time.Millisecond}

// fakeRunner hands each batch to run, or succeeds everything
type fakeRunner struct {
	mu      sync.Mutex
	batches [][]string
	run     func(items []types.WorkItem, start types.Delays) *types.BatchOutcome
}

func (r *fakeRunner) BaseDelays() types.Delays { return testBase }

func (r *fakeRunner) Run(ctx context.Context, items []types.WorkItem, start types.Delays) *types.BatchOutcome {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.Message.Id
	}
	r.mu.Lock()
	r.batches = append(r.batches, ids)
	run := r.run
	r.mu.Unlock()

	if run != nil {
		return run(items, start)
	}
	return succeedAll(items, start)
}

func (r *fakeRunner) seen() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func succeedAll(items []types.WorkItem, start types.Delays) *types.BatchOutcome {
	out := &types.BatchOutcome{State: types.RunStateCompleted, CurrentDelays: start}
	for _, item := range items {
		out.Successful = append(out.Successful, types.ProcessedMessage{Message: item.Message, Synopsis: &types.SynopsisResult{Summary: "ok"}})
	}
	return out
}

func failAll(err error) func([]types.WorkItem, types.Delays) *types.BatchOutcome {
	return func(items []types.WorkItem, start types.Delays) *types.BatchOutcome {
		out := &types.BatchOutcome{State: types.RunStateCompleted, CurrentDelays: start}
		for _, item := range items {
			out.Failed = append(out.Failed, types.FailedMessage{Item: item, Err: err, IsRateLimit: types.IsRateLimited(err)})
		}
		return out
	}
}

func testQueueConfig() types.QueueConfig {
	return types.QueueConfig{
		Capacity:          1000,
		BatchSize:         5,
		MaxRetries:        3,
		DrainInterval:     5 * time.Second,
		StatsInterval:     60 * time.Second,
		RetryBaseDelay:    30 * time.Second,
		MaxRetryDelay:     5 * time.Minute,
		RateLimitMinDelay: 5 * time.Minute,
		HighPriorityAge:   24 * time.Hour,
		MediumPriorityAge: 7 * 24 * time.Hour,
	}
}

type queueFixture struct {
	queue  *Queue
	runner *fakeRunner
	store  *repository.SynopsisMemoryRepository
	clock  *common.FakeClock
}

func newFixture(t *testing.T, cfg types.QueueConfig, opts ...Option) *queueFixture {
	clock := common.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	runner := &fakeRunner{}
	store := repository.NewSynopsisMemoryRepository()
	q := New(cfg, runner, dedup.New(store), clock, opts...)
	t.Cleanup(func() { q.Shutdown(context.Background()) })
	return &queueFixture{queue: q, runner: runner, store: store, clock: clock}
}

func msgs(clock common.Clock, age time.Duration, ids ...string) []*types.NormalizedMessage {
	out := make([]*types.NormalizedMessage, len(ids))
	for i, id := range ids {
		out[i] = &types.NormalizedMessage{Id: id, DateReceived: clock.Now().Add(-age)}
	}
	return out
}

func numbered(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%03d", i)
	}
	return ids
}

func TestEnqueueCapacityAndDuplicates(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Capacity = 3
	f := newFixture(t, cfg)

	result := f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a", "b", "c", "d", "e"))
	assert.Equal(t, types.EnqueueResult{Accepted: 3, Rejected: 2}, result)

	result = f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a", "z"))
	assert.Equal(t, types.EnqueueResult{Duplicate: 1, Rejected: 1}, result)

	stats := f.queue.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, int64(3), stats.Accepted)
	assert.Equal(t, int64(3), stats.Rejected)
}

func TestEnqueueNeverExceedsCapacity(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Capacity = 10
	f := newFixture(t, cfg)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 10)
			for i := range ids {
				ids[i] = fmt.Sprintf("w%d-%d", w, i)
			}
			f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, ids...))
		}()
	}
	wg.Wait()

	stats := f.queue.Stats()
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, int64(10), stats.Accepted)
	assert.Equal(t, int64(30), stats.Rejected)
}

func TestDrainOrdersByPriority(t *testing.T) {
	cfg := testQueueConfig()
	cfg.BatchSize = 2
	f := newFixture(t, cfg)

	f.queue.Enqueue("owner-1", msgs(f.clock, 30*24*time.Hour, "old"))
	f.queue.Enqueue("owner-1", msgs(f.clock, 3*24*time.Hour, "week"))
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "fresh"))

	_, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	_, err = f.queue.DrainOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"fresh", "week"}, {"old"}}, f.runner.seen())
	assert.Equal(t, 0, f.queue.Stats().Total)
	assert.Equal(t, int64(3), f.queue.Stats().Completed)
}

func TestNewFillsUnsetTimings(t *testing.T) {
	f := newFixture(t, types.QueueConfig{Capacity: 10, BatchSize: 1})
	f.runner.run = failAll(&types.TransientError{Service: "llm", StatusCode: 500, Err: errors.New("boom")})

	f.queue.Enqueue("owner-1", msgs(f.clock, 30*24*time.Hour, "old"))
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "fresh"))

	assert.Equal(t, types.PriorityHigh, f.queue.items["fresh"].Priority)
	assert.Equal(t, types.PriorityLow, f.queue.items["old"].Priority)

	_, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"fresh"}}, f.runner.seen())

	item := f.queue.items["fresh"]
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), *item.NextRetryAt)

	f.runner.run = failAll(&types.RateLimitedError{Service: "llm", StatusCode: 429})
	_, err = f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *f.queue.items["old"].NextRetryAt)
}

func TestDrainTakesBatchSize(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, numbered(12)...))

	result, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Selected)
	assert.Equal(t, 5, result.Completed)
	assert.Equal(t, 7, f.queue.Stats().Total)
}

func TestDrainRetryCeiling(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	f.runner.run = failAll(&types.TransientError{Service: "llm", StatusCode: 500, Err: errors.New("boom")})
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a"))

	start := f.clock.Now()
	result, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retrying)

	item := f.queue.items["a"]
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, start.Add(30*time.Second), *item.NextRetryAt)

	// not due yet
	result, err = f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Selected)

	f.clock.Advance(30 * time.Second)
	_, err = f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.queue.items["a"].RetryCount)
	assert.Equal(t, f.clock.Now().Add(60*time.Second), *f.queue.items["a"].NextRetryAt)

	f.clock.Advance(60 * time.Second)
	result, err = f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dropped)

	f.clock.Advance(time.Hour)
	result, err = f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Selected)

	assert.Len(t, f.runner.seen(), 3, "attempted exactly MaxRetries times")
	stats := f.queue.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestDrainRateLimitFloor(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	f.runner.run = failAll(&types.RateLimitedError{Service: "llm", StatusCode: 429})
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a"))

	_, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)

	item := f.queue.items["a"]
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *item.NextRetryAt)
}

func TestDrainDeferredKeepsRetryCount(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	f.runner.run = func(items []types.WorkItem, start types.Delays) *types.BatchOutcome {
		return &types.BatchOutcome{
			State:         types.RunStateHaltedOnQuota,
			Successful:    []types.ProcessedMessage{{Message: items[0].Message, Synopsis: &types.SynopsisResult{}}},
			Failed:        []types.FailedMessage{{Item: items[1], Err: &types.RateLimitedError{Service: "llm", RetryAfter: 30 * time.Second}, IsRateLimit: true}},
			Deferred:      items[2:],
			QuotaInfo:     &types.QuotaInfo{Exceeded: true, RetryAfter: 30 * time.Second},
			CurrentDelays: types.Delays{Group: 2 * time.Second, Item: 400 * time.Millisecond},
		}
	}
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a", "b", "c", "d"))

	result, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Retrying)
	assert.Equal(t, 2, result.Deferred)

	for _, id := range []string{"c", "d"} {
		item := f.queue.items[id]
		assert.Equal(t, 0, item.RetryCount)
		assert.False(t, item.Processing)
		assert.Equal(t, f.clock.Now().Add(30*time.Second), *item.NextRetryAt)
	}
	assert.Equal(t, types.Delays{Group: 2 * time.Second, Item: 400 * time.Millisecond}, f.queue.Stats().CurrentDelays)
}

func TestDrainCompletesAlreadyPersisted(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	_, _, err := f.store.InsertAndCount(context.Background(), &types.SynopsisRecord{Id: "syn-a", MessageId: "a", OwnerId: "owner-1"})
	require.NoError(t, err)

	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a", "b"))

	result, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, [][]string{{"b"}}, f.runner.seen())
}

func TestDrainDoesNotOverlap(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	entered := make(chan struct{})
	release := make(chan struct{})
	f.runner.run = func(items []types.WorkItem, start types.Delays) *types.BatchOutcome {
		close(entered)
		<-release
		return succeedAll(items, start)
	}
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.queue.DrainOnce(context.Background())
	}()
	<-entered

	_, err := f.queue.DrainOnce(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)
	assert.Equal(t, 1, f.queue.Stats().Processing)

	close(release)
	<-done
	assert.Equal(t, 0, f.queue.Stats().Total)
}

func TestStats(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	f.runner.run = failAll(&types.TransientError{Service: "llm", Err: errors.New("boom")})

	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a"))
	f.clock.Advance(10 * time.Second)
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "b"))

	stats := f.queue.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 5*time.Second, stats.AverageWait)

	f.queue.cfg.BatchSize = 1
	_, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)

	stats = f.queue.Stats()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Waiting)
	assert.False(t, stats.Running)
}

func TestStartDrainsOnTickAndShutsDown(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	require.NoError(t, f.queue.Start(context.Background()))
	assert.ErrorIs(t, f.queue.Start(context.Background()), ErrAlreadyStarted)
	assert.True(t, f.queue.Stats().Running)

	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a", "b"))

	require.Eventually(t, func() bool {
		f.clock.Tick(5 * time.Second)
		return f.queue.Stats().Completed == 2
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.queue.Shutdown(ctx))

	assert.Equal(t, 0, f.clock.TickerCount())
	assert.False(t, f.queue.Stats().Running)

	_, err := f.queue.DrainOnce(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)

	result := f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "c"))
	assert.Equal(t, 1, result.Rejected)
}

func TestEnqueueDeferred(t *testing.T) {
	f := newFixture(t, testQueueConfig())
	notBefore := f.clock.Now().Add(30 * time.Second)
	f.queue.EnqueueDeferred("owner-1", msgs(f.clock, time.Hour, "a"), notBefore)

	result, err := f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Selected)
	assert.Equal(t, 1, f.queue.Stats().Waiting)

	f.clock.Advance(30 * time.Second)
	result, err = f.queue.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
}

func TestJournalRestore(t *testing.T) {
	rdb, err := repository.NewRedisClientForTest()
	require.NoError(t, err)
	journal := repository.NewRedisQueueJournal(rdb, "test")

	f := newFixture(t, testQueueConfig(), WithJournal(journal))
	f.runner.run = failAll(&types.TransientError{Service: "llm", Err: errors.New("boom")})
	f.queue.Enqueue("owner-1", msgs(f.clock, time.Hour, "a", "b"))

	_, err = f.queue.DrainOnce(context.Background())
	require.NoError(t, err)

	saved, err := journal.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 2)
	for _, item := range saved {
		assert.Equal(t, 1, item.RetryCount)
	}

	restarted := newFixture(t, testQueueConfig(), WithJournal(journal))
	n, err := restarted.queue.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, restarted.queue.Stats().Total)

	// a success clears the journal
	restarted.clock.Advance(time.Hour)
	_, err = restarted.queue.DrainOnce(context.Background())
	require.NoError(t, err)

	saved, err = journal.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, saved)
}
