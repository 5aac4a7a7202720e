package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/beam-cloud/synopsis/pkg/types"
)

// Fixed-width UTC timestamps keep lexical order equal to time order.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS synopsis (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		thread_id TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		date_received TEXT NOT NULL,
		has_unsubscribe INTEGER NOT NULL DEFAULT 0,
		fields TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_synopsis_owner_date ON synopsis(owner_id, date_received DESC)`,
	`CREATE TABLE IF NOT EXISTS owner_counter (
		owner_id TEXT PRIMARY KEY,
		analyzed_count INTEGER NOT NULL DEFAULT 0
	)`,
}

// SynopsisSQLiteRepository implements SynopsisRepository on a local SQLite file
type SynopsisSQLiteRepository struct {
	db *sqlx.DB
}

type sqliteSynopsisRow struct {
	Id             string `db:"id"`
	MessageId      string `db:"message_id"`
	OwnerId        string `db:"owner_id"`
	ThreadId       string `db:"thread_id"`
	SourceURL      string `db:"source_url"`
	DateReceived   string `db:"date_received"`
	HasUnsubscribe bool   `db:"has_unsubscribe"`
	Fields         string `db:"fields"`
	CreatedAt      string `db:"created_at"`
}

// NewSynopsisSQLiteRepository opens (or creates) the database at path and applies the schema
func NewSynopsisSQLiteRepository(path string) (*SynopsisSQLiteRepository, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &SynopsisSQLiteRepository{db: db}, nil
}

func (r *SynopsisSQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SynopsisSQLiteRepository) Exists(ctx context.Context, messageId string) (bool, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM synopsis WHERE message_id = ?`, messageId); err != nil {
		return false, fmt.Errorf("failed to check synopsis: %w", err)
	}
	return n > 0, nil
}

func (r *SynopsisSQLiteRepository) InsertAndCount(ctx context.Context, record *types.SynopsisRecord) (bool, int64, error) {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return false, 0, fmt.Errorf("failed to marshal fields: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO synopsis (id, message_id, owner_id, thread_id, source_url, date_received, has_unsubscribe, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`,
		record.Id, record.MessageId, record.OwnerId, record.ThreadId, record.SourceURL,
		record.DateReceived.UTC().Format(sqliteTimeFormat), record.HasUnsubscribe, string(fields),
		record.CreatedAt.UTC().Format(sqliteTimeFormat),
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
	err = tx.GetContext(ctx, &count, `
		INSERT INTO owner_counter (owner_id, analyzed_count) VALUES (?, 1)
		ON CONFLICT (owner_id) DO UPDATE SET analyzed_count = analyzed_count + 1
		RETURNING analyzed_count`, record.OwnerId)
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit synopsis: %w", err)
	}
	return true, count, nil
}

func (r *SynopsisSQLiteRepository) GetCounter(ctx context.Context, ownerId string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT analyzed_count FROM owner_counter WHERE owner_id = ?`, ownerId)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return count, nil
}

func (r *SynopsisSQLiteRepository) Get(ctx context.Context, messageId string) (*types.SynopsisRecord, error) {
	var row sqliteSynopsisRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM synopsis WHERE message_id = ?`, messageId)
	if err == sql.ErrNoRows {
		return nil, &types.RecordNotFoundError{MessageId: messageId}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get synopsis: %w", err)
	}
	return row.toRecord()
}

func (r *SynopsisSQLiteRepository) ListByOwner(ctx context.Context, ownerId string, limit int) ([]*types.SynopsisRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []sqliteSynopsisRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM synopsis WHERE owner_id = ? ORDER BY date_received DESC, message_id LIMIT ?`,
		ownerId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list synopses: %w", err)
	}

	records := make([]*types.SynopsisRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (row *sqliteSynopsisRow) toRecord() (*types.SynopsisRecord, error) {
	record := &types.SynopsisRecord{
		Id:             row.Id,
		MessageId:      row.MessageId,
		OwnerId:        row.OwnerId,
		ThreadId:       row.ThreadId,
		SourceURL:      row.SourceURL,
		HasUnsubscribe: row.HasUnsubscribe,
	}

	var err error
	if record.DateReceived, err = time.Parse(sqliteTimeFormat, row.DateReceived); err != nil {
		return nil, fmt.Errorf("failed to parse date_received: %w", err)
	}
	if record.CreatedAt, err = time.Parse(sqliteTimeFormat, row.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Fields), &record.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return record, nil
}
