package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

const defaultQueueName = "default"

// RedisQueueJournal implements QueueJournal as a Redis hash keyed by message id
type RedisQueueJournal struct {
	rdb       *common.RedisClient
	queueName string
}

// NewRedisQueueJournal creates a journal for the named queue
func NewRedisQueueJournal(rdb *common.RedisClient, queueName string) *RedisQueueJournal {
	if queueName == "" {
		queueName = defaultQueueName
	}
	return &RedisQueueJournal{rdb: rdb, queueName: queueName}
}

// Save writes the current state of an item
func (j *RedisQueueJournal) Save(ctx context.Context, item *types.QueuedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queued item: %w", err)
	}
	return j.rdb.HSet(ctx, common.Keys.QueueItems(j.queueName), item.Message.Id, data).Err()
}

// Remove deletes an item after it completed or was dropped
func (j *RedisQueueJournal) Remove(ctx context.Context, messageId string) error {
	return j.rdb.HDel(ctx, common.Keys.QueueItems(j.queueName), messageId).Err()
}

// LoadAll returns every journaled item. Items that were mid-processing when the
// previous process stopped come back as not processing.
func (j *RedisQueueJournal) LoadAll(ctx context.Context) ([]*types.QueuedItem, error) {
	entries, err := j.rdb.HGetAll(ctx, common.Keys.QueueItems(j.queueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load queue journal: %w", err)
	}

	items := make([]*types.QueuedItem, 0, len(entries))
	for id, data := range entries {
		var item types.QueuedItem
		if err := json.Unmarshal([]byte(data), &item); err != nil || item.Message == nil {
			// Drop entries we can't decode rather than failing the restore
			j.rdb.HDel(ctx, common.Keys.QueueItems(j.queueName), id)
			continue
		}
		item.Processing = false
		items = append(items, &item)
	}
	return items, nil
}
