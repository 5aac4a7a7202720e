package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/beam-cloud/synopsis/pkg/types"
)

func (b *PostgresBackend) Exists(ctx context.Context, messageId string) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM synopsis WHERE message_id = $1)`, messageId,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check synopsis: %w", err)
	}
	return exists, nil
}

func (b *PostgresBackend) InsertAndCount(ctx context.Context, record *types.SynopsisRecord) (bool, int64, error) {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return false, 0, fmt.Errorf("failed to marshal fields: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO synopsis (id, message_id, owner_id, thread_id, source_url, date_received, has_unsubscribe, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO NOTHING`,
		record.Id, record.MessageId, record.OwnerId, record.ThreadId, record.SourceURL,
		record.DateReceived, record.HasUnsubscribe, fields, record.CreatedAt,
	)
	if err != nil {
		return false, 0, fmt.Errorf("failed to insert synopsis: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, 0, err
	}
	if n != 1 {
		return false, 0, nil
	}

	var count int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO owner_counter (owner_id, analyzed_count) VALUES ($1, 1)
		ON CONFLICT (owner_id) DO UPDATE
		SET analyzed_count = owner_counter.analyzed_count + 1, updated_at = CURRENT_TIMESTAMP
		RETURNING analyzed_count`, record.OwnerId,
	).Scan(&count)
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit synopsis: %w", err)
	}
	return true, count, nil
}

func (b *PostgresBackend) GetCounter(ctx context.Context, ownerId string) (int64, error) {
	var count int64
	err := b.db.QueryRowContext(ctx,
		`SELECT analyzed_count FROM owner_counter WHERE owner_id = $1`, ownerId,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return count, nil
}

const synopsisColumns = `id, message_id, owner_id, thread_id, source_url, date_received, has_unsubscribe, fields, created_at`

func (b *PostgresBackend) Get(ctx context.Context, messageId string) (*types.SynopsisRecord, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT `+synopsisColumns+` FROM synopsis WHERE message_id = $1`, messageId)

	record, err := scanSynopsis(row)
	if err == sql.ErrNoRows {
		return nil, &types.RecordNotFoundError{MessageId: messageId}
	}
	return record, err
}

func (b *PostgresBackend) ListByOwner(ctx context.Context, ownerId string, limit int) ([]*types.SynopsisRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+synopsisColumns+` FROM synopsis WHERE owner_id = $1 ORDER BY date_received DESC, message_id LIMIT $2`,
		ownerId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list synopses: %w", err)
	}
	defer rows.Close()

	var records []*types.SynopsisRecord
	for rows.Next() {
		record, err := scanSynopsis(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSynopsis(row rowScanner) (*types.SynopsisRecord, error) {
	var record types.SynopsisRecord
	var fields []byte
	if err := row.Scan(
		&record.Id, &record.MessageId, &record.OwnerId, &record.ThreadId, &record.SourceURL,
		&record.DateReceived, &record.HasUnsubscribe, &fields, &record.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &record.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return &record, nil
}
