package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

func TestRedisQueueJournal(t *testing.T) {
	rdb, err := NewRedisClientForTest()
	require.NoError(t, err)

	ctx := context.Background()
	journal := NewRedisQueueJournal(rdb, "")

	next := time.Now().Add(time.Minute).UTC()
	item := &types.QueuedItem{
		OwnerId:     "owner",
		Message:     &types.NormalizedMessage{Id: "m1", Subject: "hello"},
		AddedAt:     time.Now().UTC(),
		RetryCount:  2,
		NextRetryAt: &next,
		Priority:    types.PriorityHigh,
		Processing:  true,
	}
	require.NoError(t, journal.Save(ctx, item))
	require.NoError(t, journal.Save(ctx, &types.QueuedItem{OwnerId: "owner", Message: &types.NormalizedMessage{Id: "m2"}}))

	items, err := journal.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byId := map[string]*types.QueuedItem{}
	for _, it := range items {
		byId[it.Message.Id] = it
	}
	assert.Equal(t, 2, byId["m1"].RetryCount)
	assert.Equal(t, types.PriorityHigh, byId["m1"].Priority)
	assert.False(t, byId["m1"].Processing)
	assert.True(t, next.Equal(*byId["m1"].NextRetryAt))

	require.NoError(t, journal.Remove(ctx, "m1"))
	items, err = journal.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRedisQueueJournalDropsCorruptEntries(t *testing.T) {
	rdb, err := NewRedisClientForTest()
	require.NoError(t, err)

	ctx := context.Background()
	journal := NewRedisQueueJournal(rdb, "q")
	require.NoError(t, rdb.HSet(ctx, common.Keys.QueueItems("q"), "bad", "{not json").Err())

	items, err := journal.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	n, err := rdb.HLen(ctx, common.Keys.QueueItems("q")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMailboxTokenRepositories(t *testing.T) {
	rdb, err := NewRedisClientForTest()
	require.NoError(t, err)

	repos := map[string]MailboxTokenRepository{
		"memory": NewMailboxTokenMemoryRepository(),
		"redis":  NewMailboxTokenRedisRepository(rdb),
	}

	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.GetToken(ctx, "owner")
			assert.ErrorIs(t, err, ErrTokenNotFound)

			field := &types.EncryptedField{Ciphertext: "c", AuthTag: "t", Nonce: "n"}
			require.NoError(t, repo.SaveToken(ctx, "owner", field))

			got, err := repo.GetToken(ctx, "owner")
			require.NoError(t, err)
			assert.Equal(t, field, got)

			require.NoError(t, repo.DeleteToken(ctx, "owner"))
			_, err = repo.GetToken(ctx, "owner")
			assert.ErrorIs(t, err, ErrTokenNotFound)
		})
	}
}
