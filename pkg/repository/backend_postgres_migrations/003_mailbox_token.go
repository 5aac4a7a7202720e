package backend_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upMailboxToken, downMailboxToken)
}

func upMailboxToken(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS mailbox_token (
		owner_id VARCHAR(255) PRIMARY KEY,
		ciphertext TEXT NOT NULL,
		auth_tag VARCHAR(64) NOT NULL,
		nonce VARCHAR(64) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func downMailboxToken(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS mailbox_token`)
	return err
}
