package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/beam-cloud/synopsis/pkg/types"
)

// SynopsisMemoryRepository implements SynopsisRepository in process memory
type SynopsisMemoryRepository struct {
	mu       sync.RWMutex
	records  map[string]*types.SynopsisRecord
	counters map[string]int64
}

// NewSynopsisMemoryRepository creates an empty in-memory repository
func NewSynopsisMemoryRepository() *SynopsisMemoryRepository {
	return &SynopsisMemoryRepository{
		records:  make(map[string]*types.SynopsisRecord),
		counters: make(map[string]int64),
	}
}

func (r *SynopsisMemoryRepository) Exists(_ context.Context, messageId string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[messageId]
	return ok, nil
}

func (r *SynopsisMemoryRepository) InsertAndCount(_ context.Context, record *types.SynopsisRecord) (bool, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.MessageId]; ok {
		return false, 0, nil
	}
	copied := *record
	r.records[record.MessageId] = &copied
	r.counters[record.OwnerId]++
	return true, r.counters[record.OwnerId], nil
}

func (r *SynopsisMemoryRepository) GetCounter(_ context.Context, ownerId string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[ownerId], nil
}

func (r *SynopsisMemoryRepository) Get(_ context.Context, messageId string) (*types.SynopsisRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[messageId]
	if !ok {
		return nil, &types.RecordNotFoundError{MessageId: messageId}
	}
	copied := *record
	return &copied, nil
}

func (r *SynopsisMemoryRepository) ListByOwner(_ context.Context, ownerId string, limit int) ([]*types.SynopsisRecord, error) {
	r.mu.RLock()
	var out []*types.SynopsisRecord
	for _, record := range r.records {
		if record.OwnerId == ownerId {
			copied := *record
			out = append(out, &copied)
		}
	}
	r.mu.RUnlock()

	sortRecords(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortRecords orders records newest message first
func sortRecords(records []*types.SynopsisRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].DateReceived.Equal(records[j].DateReceived) {
			return records[i].MessageId < records[j].MessageId
		}
		return records[i].DateReceived.After(records[j].DateReceived)
	})
}
