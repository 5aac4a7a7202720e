package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/beam-cloud/synopsis/pkg/common"
)

func TestStateStoreTakeOnce(t *testing.T) {
	store := NewStateStore(time.Minute, common.NewFakeClock(testNow))

	state := store.Create("owner-1", "/inbox")
	assert.Len(t, state, 32)

	ownerId, returnTo, ok := store.Take(state)
	assert.True(t, ok)
	assert.Equal(t, "owner-1", ownerId)
	assert.Equal(t, "/inbox", returnTo)

	_, _, ok = store.Take(state)
	assert.False(t, ok)
}

func TestStateStoreExpiry(t *testing.T) {
	clock := common.NewFakeClock(testNow)
	store := NewStateStore(time.Minute, clock)

	state := store.Create("owner-1", "")
	clock.Advance(2 * time.Minute)

	_, _, ok := store.Take(state)
	assert.False(t, ok)
}

func TestStateStoreUnknown(t *testing.T) {
	store := NewStateStore(0, common.NewFakeClock(testNow))

	_, _, ok := store.Take("nope")
	assert.False(t, ok)
}
