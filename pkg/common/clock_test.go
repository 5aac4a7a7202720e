package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockSleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	require.NoError(t, clock.Sleep(context.Background(), 3*time.Second))
	require.NoError(t, clock.Sleep(context.Background(), 0))

	assert.Equal(t, start.Add(3*time.Second), clock.Now())
	assert.Equal(t, []time.Duration{3 * time.Second, 0}, clock.Sleeps())
}

func TestFakeClockSleepCanceled(t *testing.T) {
	clock := NewFakeClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, clock.Sleep(ctx, time.Second), context.Canceled)
	assert.Empty(t, clock.Sleeps())
}

func TestFakeClockTickFiresMatchingTickers(t *testing.T) {
	clock := NewFakeClock(time.Now())
	fast := clock.NewTicker(5 * time.Second)
	slow := clock.NewTicker(time.Minute)
	assert.Equal(t, 2, clock.TickerCount())

	clock.Tick(5 * time.Second)

	select {
	case <-fast.C():
	default:
		t.Fatal("expected 5s ticker to fire")
	}
	select {
	case <-slow.C():
		t.Fatal("60s ticker should not fire")
	default:
	}

	slow.Stop()
	assert.Equal(t, 1, clock.TickerCount())
}

func TestRealClockSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewRealClock().Sleep(ctx, time.Hour), context.Canceled)
}
