package dedup

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/types"
)

// ExistenceChecker answers whether a synopsis was already persisted for a message
type ExistenceChecker interface {
	Exists(ctx context.Context, messageId string) (bool, error)
}

// Deduplicator drops work items whose synopsis already exists. A failed
// existence check never lets the item through: it is returned as a failure
// with a StoreError so the caller can report or retry it.
type Deduplicator struct {
	store ExistenceChecker
}

func New(store ExistenceChecker) *Deduplicator {
	return &Deduplicator{store: store}
}

// FilterNew returns the items that still need processing, in input order.
// Repeated ids within items are collapsed to their first occurrence.
func (d *Deduplicator) FilterNew(ctx context.Context, items []types.WorkItem) ([]types.WorkItem, []types.FailedMessage) {
	fresh := make([]types.WorkItem, 0, len(items))
	var failures []types.FailedMessage

	seen := make(map[string]struct{}, len(items))
	existing := 0

	for _, item := range items {
		if item.Message == nil {
			continue
		}
		id := item.Message.Id
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		exists, err := d.store.Exists(ctx, id)
		if err != nil {
			storeErr := &types.StoreError{Op: "exists", MessageId: id, Err: err}
			log.Warn().Str("message_id", id).Err(err).Msg("existence check failed, holding message back")
			failures = append(failures, types.FailedMessage{Item: item, Err: storeErr})
			continue
		}
		if exists {
			existing++
			continue
		}
		fresh = append(fresh, item)
	}

	if existing > 0 || len(failures) > 0 {
		log.Debug().
			Int("input", len(items)).
			Int("fresh", len(fresh)).
			Int("existing", existing).
			Int("failed", len(failures)).
			Msg("dedup filtered batch")
	}

	return fresh, failures
}

// WorkItems wraps messages for one owner
func WorkItems(ownerId string, msgs []*types.NormalizedMessage) []types.WorkItem {
	items := make([]types.WorkItem, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, types.WorkItem{OwnerId: ownerId, Message: msg})
	}
	return items
}
