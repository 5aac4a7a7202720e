package backend_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upOwnerCounter, downOwnerCounter)
}

func upOwnerCounter(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS owner_counter (
		owner_id VARCHAR(255) PRIMARY KEY,
		analyzed_count BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func downOwnerCounter(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS owner_counter`)
	return err
}
