package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// SynopsisRedisRepository implements SynopsisRepository using Redis.
// Records have no TTL; the record key doubles as the dedup marker. Each owner's
// index is a sorted set scored by the message's received time in milliseconds.
type SynopsisRedisRepository struct {
	rdb *common.RedisClient
}

// NewSynopsisRedisRepository creates a new Redis-backed synopsis repository
func NewSynopsisRedisRepository(rdb *common.RedisClient) *SynopsisRedisRepository {
	return &SynopsisRedisRepository{rdb: rdb}
}

func (r *SynopsisRedisRepository) Exists(ctx context.Context, messageId string) (bool, error) {
	n, err := r.rdb.Exists(ctx, common.Keys.SynopsisRecord(messageId)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertAndCount writes the record, its index entry and the counter bump in one
// MULTI/EXEC. The record key is watched so a concurrent insert of the same
// message aborts the transaction instead of counting twice.
func (r *SynopsisRedisRepository) InsertAndCount(ctx context.Context, record *types.SynopsisRecord) (bool, int64, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, 0, fmt.Errorf("failed to marshal record: %w", err)
	}

	recordKey := common.Keys.SynopsisRecord(record.MessageId)
	var count *redis.IntCmd

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, recordKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recordKey, data, 0)
			pipe.ZAdd(ctx, common.Keys.SynopsisIndex(record.OwnerId), redis.Z{
				Score:  float64(record.DateReceived.UnixMilli()),
				Member: record.MessageId,
			})
			count = pipe.Incr(ctx, common.Keys.SynopsisCounter(record.OwnerId))
			return nil
		})
		return err
	}, recordKey)

	if err == redis.TxFailedErr {
		// Another writer stored the same message between WATCH and EXEC
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if count == nil {
		return false, 0, nil
	}
	return true, count.Val(), nil
}

func (r *SynopsisRedisRepository) GetCounter(ctx context.Context, ownerId string) (int64, error) {
	n, err := r.rdb.Get(ctx, common.Keys.SynopsisCounter(ownerId)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (r *SynopsisRedisRepository) Get(ctx context.Context, messageId string) (*types.SynopsisRecord, error) {
	data, err := r.rdb.Get(ctx, common.Keys.SynopsisRecord(messageId)).Bytes()
	if err == redis.Nil {
		return nil, &types.RecordNotFoundError{MessageId: messageId}
	}
	if err != nil {
		return nil, err
	}

	var record types.SynopsisRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

func (r *SynopsisRedisRepository) ListByOwner(ctx context.Context, ownerId string, limit int) ([]*types.SynopsisRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := r.rdb.ZRevRange(ctx, common.Keys.SynopsisIndex(ownerId), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = common.Keys.SynopsisRecord(id)
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*types.SynopsisRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var record types.SynopsisRecord
		if err := json.Unmarshal([]byte(s), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	sortRecords(records)
	return records, nil
}
