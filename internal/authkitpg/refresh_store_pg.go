package authkitpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/tsession/internal/authkit"
)

var _ authkit.RefreshTokenStore = (*PostgresRefreshTokenStore)(nil)

// PostgresRefreshTokenStore keeps one refresh token hash per user in PostgreSQL.
type PostgresRefreshTokenStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRefreshTokenStore constructs a Postgres store.
func NewPostgresRefreshTokenStore(pool *pgxpool.Pool) *PostgresRefreshTokenStore {
	return &PostgresRefreshTokenStore{pool: pool}
}

// Replace drops the user's previous token and stores the new one in a single transaction.
func (store *PostgresRefreshTokenStore) Replace(ctx context.Context, applicationUserID string, token string, issuedAt time.Time) error {
	if token == "" {
		return fmt.Errorf("refresh_store.replace.pg: %w", authkit.ErrRefreshTokenEmpty)
	}
	txErr := pgx.BeginFunc(ctx, store.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, applicationUserID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
INSERT INTO refresh_tokens (user_id, token_hash, issued_at_unix)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE
SET token_hash = EXCLUDED.token_hash, issued_at_unix = EXCLUDED.issued_at_unix
`, applicationUserID, authkit.HashRefreshToken(token), issuedAt.UTC().Unix())
		return err
	})
	if txErr != nil {
		return fmt.Errorf("refresh_store.replace.pg: %w", txErr)
	}
	return nil
}

// Lookup returns the user's current token record.
func (store *PostgresRefreshTokenStore) Lookup(ctx context.Context, applicationUserID string) (authkit.RefreshTokenRecord, error) {
	row := store.pool.QueryRow(ctx, `
SELECT user_id, token_hash, issued_at_unix
FROM refresh_tokens
WHERE user_id = $1
`, applicationUserID)
	record, err := scanRecord(row)
	if err != nil {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.lookup.pg: %w", err)
	}
	return record, nil
}

// FindByToken resolves a raw refresh token to its record.
func (store *PostgresRefreshTokenStore) FindByToken(ctx context.Context, token string) (authkit.RefreshTokenRecord, error) {
	if token == "" {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.pg: %w", authkit.ErrRefreshTokenEmpty)
	}
	row := store.pool.QueryRow(ctx, `
SELECT user_id, token_hash, issued_at_unix
FROM refresh_tokens
WHERE token_hash = $1
`, authkit.HashRefreshToken(token))
	record, err := scanRecord(row)
	if err != nil {
		return authkit.RefreshTokenRecord{}, fmt.Errorf("refresh_store.find.pg: %w", err)
	}
	return record, nil
}

// Delete removes the user's token; a missing token is not an error.
func (store *PostgresRefreshTokenStore) Delete(ctx context.Context, applicationUserID string) error {
	if _, err := store.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, applicationUserID); err != nil {
		return fmt.Errorf("refresh_store.delete.pg: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (authkit.RefreshTokenRecord, error) {
	var record authkit.RefreshTokenRecord
	var issuedAtUnix int64
	if err := row.Scan(&record.UserID, &record.TokenHash, &issuedAtUnix); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authkit.RefreshTokenRecord{}, authkit.ErrRefreshTokenNotFound
		}
		return authkit.RefreshTokenRecord{}, err
	}
	record.IssuedAt = time.Unix(issuedAtUnix, 0).UTC()
	return record, nil
}
