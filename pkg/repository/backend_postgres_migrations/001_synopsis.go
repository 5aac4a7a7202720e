package backend_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upSynopsis, downSynopsis)
}

func upSynopsis(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS synopsis (
			id VARCHAR(64) PRIMARY KEY,
			message_id VARCHAR(255) NOT NULL UNIQUE,
			owner_id VARCHAR(255) NOT NULL,
			thread_id VARCHAR(255) NOT NULL DEFAULT '',
			source_url TEXT NOT NULL DEFAULT '',
			date_received TIMESTAMP WITH TIME ZONE NOT NULL,
			has_unsubscribe BOOLEAN NOT NULL DEFAULT FALSE,
			fields JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_synopsis_owner_date ON synopsis(owner_id, date_received DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func downSynopsis(tx *sql.Tx) error {
	stmts := []string{
		`DROP INDEX IF EXISTS idx_synopsis_owner_date`,
		`DROP TABLE IF EXISTS synopsis`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
