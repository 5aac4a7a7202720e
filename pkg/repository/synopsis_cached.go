package repository

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/beam-cloud/synopsis/pkg/types"
)

// CachedSynopsisRepository remembers message ids known to be persisted.
// Records are never deleted, so a positive existence answer can be cached
// indefinitely; negative answers always go to the backing store.
type CachedSynopsisRepository struct {
	SynopsisRepository
	known *lru.Cache[string, struct{}]
}

// NewCachedSynopsisRepository wraps repo with an LRU of the given size
func NewCachedSynopsisRepository(repo SynopsisRepository, size int) (*CachedSynopsisRepository, error) {
	known, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &CachedSynopsisRepository{SynopsisRepository: repo, known: known}, nil
}

func (r *CachedSynopsisRepository) Exists(ctx context.Context, messageId string) (bool, error) {
	if r.known.Contains(messageId) {
		return true, nil
	}

	exists, err := r.SynopsisRepository.Exists(ctx, messageId)
	if err != nil {
		return false, err
	}
	if exists {
		r.known.Add(messageId, struct{}{})
	}
	return exists, nil
}

func (r *CachedSynopsisRepository) InsertAndCount(ctx context.Context, record *types.SynopsisRecord) (bool, int64, error) {
	created, count, err := r.SynopsisRepository.InsertAndCount(ctx, record)
	if err != nil {
		return false, 0, err
	}
	r.known.Add(record.MessageId, struct{}{})
	return created, count, nil
}
