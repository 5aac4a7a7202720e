package repository

import (
	"context"

	"github.com/beam-cloud/synopsis/pkg/types"
)

// SynopsisRepository stores encrypted synopses and per-owner analyzed counters.
// InsertAndCount is insert-if-absent: the record and the owner's counter bump
// are written together or not at all. It reports false and a zero count when
// the message id already exists.
type SynopsisRepository interface {
	Exists(ctx context.Context, messageId string) (bool, error)
	InsertAndCount(ctx context.Context, record *types.SynopsisRecord) (created bool, count int64, err error)
	GetCounter(ctx context.Context, ownerId string) (int64, error)
	Get(ctx context.Context, messageId string) (*types.SynopsisRecord, error)
	ListByOwner(ctx context.Context, ownerId string, limit int) ([]*types.SynopsisRecord, error)
}

// QueueJournal mirrors background queue items so they survive a restart
type QueueJournal interface {
	Save(ctx context.Context, item *types.QueuedItem) error
	Remove(ctx context.Context, messageId string) error
	LoadAll(ctx context.Context) ([]*types.QueuedItem, error)
}

// MailboxTokenRepository stores each owner's encrypted mailbox OAuth token
type MailboxTokenRepository interface {
	SaveToken(ctx context.Context, ownerId string, token *types.EncryptedField) error
	GetToken(ctx context.Context, ownerId string) (*types.EncryptedField, error)
	DeleteToken(ctx context.Context, ownerId string) error
}
