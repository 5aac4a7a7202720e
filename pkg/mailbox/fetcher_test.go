package mailbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// mockGetter returns scripted errors per id, then a message
type mockGetter struct {
	mu       sync.Mutex
	failures map[string][]error
	calls    map[string]int
	delay    time.Duration
}

func newMockGetter() *mockGetter {
	return &mockGetter{failures: map[string][]error{}, calls: map[string]int{}}
}

func (m *mockGetter) GetMessage(ctx context.Context, _ string, id string) (*gmail.Message, error) {
	m.mu.Lock()
	m.calls[id]++
	var err error
	if queue := m.failures[id]; len(queue) > 0 {
		err = queue[0]
		m.failures[id] = queue[1:]
	}
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &gmail.Message{Id: id, Snippet: "body of " + id}, nil
}

func (m *mockGetter) callCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

func testFetcherConfig() types.MailboxConfig {
	return types.MailboxConfig{
		FetchConcurrency: 4,
		MinConcurrency:   1,
		SuccessesToGrow:  100,
		MaxRequeues:      3,
		RetryBaseDelay:   10 * time.Millisecond,
		RetryMaxDelay:    time.Second,
	}
}

func rateLimited() error {
	return &types.RateLimitedError{Service: "gmail", StatusCode: 429}
}

func ids(msgs []*types.NormalizedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Id
	}
	return out
}

func TestFetchFullMessagesPreservesOrder(t *testing.T) {
	getter := newMockGetter()
	f := NewFetcher(getter, testFetcherConfig(), common.NewFakeClock(time.Now()))

	msgs, stats, err := f.FetchFullMessages(context.Background(), "tok", []string{"a", "b", "c", "d", "e", "f"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids(msgs))
	assert.Equal(t, 6, stats.Fetched)
	assert.Equal(t, "body of c", msgs[2].Body)
}

func TestFetchFullMessagesRequeuesRateLimitedAndHalvesPool(t *testing.T) {
	getter := newMockGetter()
	getter.failures["b"] = []error{rateLimited()}
	getter.failures["c"] = []error{rateLimited()}
	clock := common.NewFakeClock(time.Now())
	f := NewFetcher(getter, testFetcherConfig(), clock)

	msgs, stats, err := f.FetchFullMessages(context.Background(), "tok", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(msgs))
	assert.Equal(t, 2, getter.callCount("b"))
	assert.Equal(t, 2, getter.callCount("c"))
	assert.Equal(t, 2, stats.Requeued)
	assert.Equal(t, 1, stats.FinalConcurrency) // 4 -> 2 -> 1
	assert.Len(t, clock.Sleeps(), 2)
}

func TestFetchFullMessagesDropsAfterMaxRequeues(t *testing.T) {
	getter := newMockGetter()
	getter.failures["b"] = []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited()}
	f := NewFetcher(getter, testFetcherConfig(), common.NewFakeClock(time.Now()))

	msgs, stats, err := f.FetchFullMessages(context.Background(), "tok", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(msgs))
	assert.Equal(t, 4, getter.callCount("b"))
	assert.Equal(t, 1, stats.Dropped)
}

func TestFetchFullMessagesDropsOtherErrors(t *testing.T) {
	getter := newMockGetter()
	getter.failures["b"] = []error{&types.TransientError{Service: "gmail", StatusCode: 500, Err: errors.New("boom")}}
	f := NewFetcher(getter, testFetcherConfig(), common.NewFakeClock(time.Now()))

	msgs, stats, err := f.FetchFullMessages(context.Background(), "tok", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(msgs))
	assert.Equal(t, 1, getter.callCount("b"))
	assert.Equal(t, 1, stats.Dropped)
}

func TestFetchFullMessagesAbortsOnAuthError(t *testing.T) {
	getter := newMockGetter()
	getter.failures["b"] = []error{&types.AuthError{Service: "gmail", Message: "expired"}}
	f := NewFetcher(getter, testFetcherConfig(), common.NewFakeClock(time.Now()))

	msgs, _, err := f.FetchFullMessages(context.Background(), "tok", []string{"a", "b", "c"})
	assert.Nil(t, msgs)
	assert.Equal(t, types.ErrorKindAuth, types.KindOf(err))
}

func TestFetchFullMessagesConcurrencyBound(t *testing.T) {
	getter := newMockGetter()
	getter.delay = 5 * time.Millisecond
	cfg := testFetcherConfig()
	cfg.FetchConcurrency = 3
	f := NewFetcher(getter, cfg, common.NewFakeClock(time.Now()))

	all := make([]string, 20)
	for i := range all {
		all[i] = string(rune('a' + i))
	}

	msgs, stats, err := f.FetchFullMessages(context.Background(), "tok", all)
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
	assert.LessOrEqual(t, stats.PeakInFlight, int64(3))
	assert.Greater(t, stats.PeakInFlight, int64(0))
}

func TestFetchFullMessagesGrowsBackAfterSuccess(t *testing.T) {
	getter := newMockGetter()
	getter.failures["a"] = []error{rateLimited()}
	cfg := testFetcherConfig()
	cfg.SuccessesToGrow = 2
	f := NewFetcher(getter, cfg, common.NewFakeClock(time.Now()))

	_, stats, err := f.FetchFullMessages(context.Background(), "tok", []string{"a", "b", "c", "d", "e", "f", "g", "h"})
	require.NoError(t, err)
	assert.Greater(t, stats.FinalConcurrency, 2)
}

func TestFetchFullMessagesEmpty(t *testing.T) {
	f := NewFetcher(newMockGetter(), testFetcherConfig(), common.NewFakeClock(time.Now()))
	msgs, _, err := f.FetchFullMessages(context.Background(), "tok", nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
