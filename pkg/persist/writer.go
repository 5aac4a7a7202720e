package persist

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/crypto"
	"github.com/beam-cloud/synopsis/pkg/repository"
	"github.com/beam-cloud/synopsis/pkg/types"
)

// Encrypted field names. Each name is also the associated data its value is sealed under.
const (
	FieldSubject           = "subject"
	FieldSender            = "sender"
	FieldRecipients        = "recipients"
	FieldSummary           = "summary"
	FieldUrgencyScore      = "urgency_score"
	FieldAction            = "action"
	FieldClassification    = "classification"
	FieldKeywords          = "keywords"
	FieldExtractedEntities = "extracted_entities"
)

// Fields lists every key a stored record carries, present or not
var Fields = []string{
	FieldSubject,
	FieldSender,
	FieldRecipients,
	FieldSummary,
	FieldUrgencyScore,
	FieldAction,
	FieldClassification,
	FieldKeywords,
	FieldExtractedEntities,
}

// Writer encrypts synopses and stores them. A stored record is what makes a
// message count as processed.
type Writer struct {
	store  repository.SynopsisRepository
	cipher *crypto.FieldCipher
	clock  common.Clock
}

func NewWriter(store repository.SynopsisRepository, cipher *crypto.FieldCipher, clock common.Clock) *Writer {
	return &Writer{store: store, cipher: cipher, clock: clock}
}

// Persist writes one record for msg and bumps the owner's analyzed counter in
// a single store write. Writing a message that is already stored is a no-op.
func (w *Writer) Persist(ctx context.Context, ownerId string, msg *types.NormalizedMessage, synopsis *types.SynopsisResult) error {
	fields, err := w.encryptFields(msg, synopsis)
	if err != nil {
		return &types.StoreError{Op: "encrypt", MessageId: msg.Id, Err: err}
	}

	record := &types.SynopsisRecord{
		Id:             common.GenerateRecordID(),
		MessageId:      msg.Id,
		OwnerId:        ownerId,
		ThreadId:       msg.ThreadId,
		SourceURL:      msg.SourceURL,
		DateReceived:   msg.DateReceived,
		HasUnsubscribe: msg.HasUnsubscribe(),
		Fields:         fields,
		CreatedAt:      w.clock.Now().UTC(),
	}

	created, count, err := w.store.InsertAndCount(ctx, record)
	if err != nil {
		return &types.StoreError{Op: "insert", MessageId: msg.Id, Err: err}
	}
	if !created {
		log.Debug().Str("message_id", msg.Id).Str("owner_id", ownerId).Msg("synopsis already stored")
		return nil
	}

	log.Debug().Str("message_id", msg.Id).Str("owner_id", ownerId).Int64("analyzed", count).Msg("synopsis stored")
	return nil
}

func (w *Writer) encryptFields(msg *types.NormalizedMessage, s *types.SynopsisResult) (map[string]*types.EncryptedField, error) {
	values := map[string]any{
		FieldSubject:      msg.Subject,
		FieldSender:       msg.Sender,
		FieldRecipients:   nonNil(msg.Recipients),
		FieldSummary:      s.Summary,
		FieldUrgencyScore: s.UrgencyScore,
		FieldAction:       s.Action,
	}
	if s.Classification != "" {
		values[FieldClassification] = s.Classification
	}
	if len(s.Keywords) > 0 {
		values[FieldKeywords] = s.Keywords
	}
	if s.ExtractedEntities != nil {
		values[FieldExtractedEntities] = s.ExtractedEntities
	}

	fields := make(map[string]*types.EncryptedField, len(Fields))
	for _, name := range Fields {
		value, ok := values[name]
		if !ok {
			fields[name] = nil
			continue
		}
		field, err := w.cipher.EncryptJSON(name, value)
		if err != nil {
			return nil, err
		}
		fields[name] = field
	}
	return fields, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
