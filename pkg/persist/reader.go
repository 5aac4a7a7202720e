package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/beam-cloud/synopsis/pkg/crypto"
	"github.com/beam-cloud/synopsis/pkg/repository"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// StoredSynopsis is a decrypted record
type StoredSynopsis struct {
	Id             string                `json:"id"`
	MessageId      string                `json:"message_id"`
	OwnerId        string                `json:"owner_id"`
	ThreadId       string                `json:"thread_id,omitempty"`
	SourceURL      string                `json:"source_url"`
	DateReceived   time.Time             `json:"date_received"`
	HasUnsubscribe bool                  `json:"has_unsubscribe"`
	Subject        string                `json:"subject"`
	Sender         string                `json:"sender"`
	Recipients     []string              `json:"recipients"`
	Synopsis       *types.SynopsisResult `json:"synopsis"`
	Urgency        types.UrgencyBucket   `json:"urgency"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Reader loads and decrypts stored synopses
type Reader struct {
	store  repository.SynopsisRepository
	cipher *crypto.FieldCipher
}

func NewReader(store repository.SynopsisRepository, cipher *crypto.FieldCipher) *Reader {
	return &Reader{store: store, cipher: cipher}
}

// Load returns the decrypted synopsis for messageId
func (r *Reader) Load(ctx context.Context, messageId string) (*StoredSynopsis, error) {
	record, err := r.store.Get(ctx, messageId)
	if err != nil {
		return nil, err
	}
	return r.decode(record)
}

// List returns the owner's most recent synopses, newest first
func (r *Reader) List(ctx context.Context, ownerId string, limit int) ([]*StoredSynopsis, error) {
	records, err := r.store.ListByOwner(ctx, ownerId, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*StoredSynopsis, 0, len(records))
	for _, record := range records {
		s, err := r.decode(record)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Reader) decode(record *types.SynopsisRecord) (*StoredSynopsis, error) {
	out := &StoredSynopsis{
		Id:             record.Id,
		MessageId:      record.MessageId,
		OwnerId:        record.OwnerId,
		ThreadId:       record.ThreadId,
		SourceURL:      record.SourceURL,
		DateReceived:   record.DateReceived,
		HasUnsubscribe: record.HasUnsubscribe,
		Recipients:     []string{},
		Synopsis:       &types.SynopsisResult{Keywords: []string{}},
		CreatedAt:      record.CreatedAt,
	}

	targets := map[string]any{
		FieldSubject:           &out.Subject,
		FieldSender:            &out.Sender,
		FieldRecipients:        &out.Recipients,
		FieldSummary:           &out.Synopsis.Summary,
		FieldUrgencyScore:      &out.Synopsis.UrgencyScore,
		FieldAction:            &out.Synopsis.Action,
		FieldClassification:    &out.Synopsis.Classification,
		FieldKeywords:          &out.Synopsis.Keywords,
		FieldExtractedEntities: &out.Synopsis.ExtractedEntities,
	}

	for _, name := range Fields {
		field := record.Fields[name]
		if field == nil {
			continue
		}
		if err := r.cipher.DecryptJSON(name, field, targets[name]); err != nil {
			return nil, fmt.Errorf("failed to decrypt %s of %s: %w", name, record.MessageId, err)
		}
	}

	out.Urgency = out.Synopsis.Bucket()
	return out, nil
}

// AnalyzedCount returns how many synopses have been stored for ownerId
func (r *Reader) AnalyzedCount(ctx context.Context, ownerId string) (int64, error) {
	return r.store.GetCounter(ctx, ownerId)
}
