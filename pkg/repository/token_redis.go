package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// ErrTokenNotFound is returned when an owner has no stored mailbox token
var ErrTokenNotFound = errors.New("mailbox token not found")

// MailboxTokenRedisRepository implements MailboxTokenRepository using Redis
type MailboxTokenRedisRepository struct {
	rdb *common.RedisClient
}

func NewMailboxTokenRedisRepository(rdb *common.RedisClient) *MailboxTokenRedisRepository {
	return &MailboxTokenRedisRepository{rdb: rdb}
}

func (r *MailboxTokenRedisRepository) SaveToken(ctx context.Context, ownerId string, token *types.EncryptedField) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, common.Keys.AuthMailboxToken(ownerId), data, 0).Err()
}

func (r *MailboxTokenRedisRepository) GetToken(ctx context.Context, ownerId string) (*types.EncryptedField, error) {
	data, err := r.rdb.Get(ctx, common.Keys.AuthMailboxToken(ownerId)).Bytes()
	if err == redis.Nil {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	var token types.EncryptedField
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *MailboxTokenRedisRepository) DeleteToken(ctx context.Context, ownerId string) error {
	return r.rdb.Del(ctx, common.Keys.AuthMailboxToken(ownerId)).Err()
}

// MailboxTokenMemoryRepository implements MailboxTokenRepository in process memory
type MailboxTokenMemoryRepository struct {
	mu     sync.RWMutex
	tokens map[string]types.EncryptedField
}

func NewMailboxTokenMemoryRepository() *MailboxTokenMemoryRepository {
	return &MailboxTokenMemoryRepository{tokens: make(map[string]types.EncryptedField)}
}

func (r *MailboxTokenMemoryRepository) SaveToken(_ context.Context, ownerId string, token *types.EncryptedField) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[ownerId] = *token
	return nil
}

func (r *MailboxTokenMemoryRepository) GetToken(_ context.Context, ownerId string) (*types.EncryptedField, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[ownerId]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &token, nil
}

func (r *MailboxTokenMemoryRepository) DeleteToken(_ context.Context, ownerId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, ownerId)
	return nil
}
