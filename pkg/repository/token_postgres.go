package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/beam-cloud/synopsis/pkg/types"
)

func (b *PostgresBackend) SaveToken(ctx context.Context, ownerId string, token *types.EncryptedField) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO mailbox_token (owner_id, ciphertext, auth_tag, nonce)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE
		SET ciphertext = EXCLUDED.ciphertext, auth_tag = EXCLUDED.auth_tag,
			nonce = EXCLUDED.nonce, updated_at = CURRENT_TIMESTAMP`,
		ownerId, token.Ciphertext, token.AuthTag, token.Nonce,
	)
	if err != nil {
		return fmt.Errorf("failed to save mailbox token: %w", err)
	}
	return nil
}

func (b *PostgresBackend) GetToken(ctx context.Context, ownerId string) (*types.EncryptedField, error) {
	var token types.EncryptedField
	err := b.db.QueryRowContext(ctx,
		`SELECT ciphertext, auth_tag, nonce FROM mailbox_token WHERE owner_id = $1`, ownerId,
	).Scan(&token.Ciphertext, &token.AuthTag, &token.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox token: %w", err)
	}
	return &token, nil
}

func (b *PostgresBackend) DeleteToken(ctx context.Context, ownerId string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM mailbox_token WHERE owner_id = $1`, ownerId)
	if err != nil {
		return fmt.Errorf("failed to delete mailbox token: %w", err)
	}
	return nil
}
