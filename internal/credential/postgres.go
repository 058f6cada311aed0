package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepository stores token records in the user_tokens table.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository over db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// InsertToken persists rec.
func (r *PostgresRepository) InsertToken(ctx context.Context, rec *Record) error {
	const query = `
INSERT INTO user_tokens (token_id, user_id, email, kind, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.ExecContext(ctx, query,
		rec.TokenID, rec.UserID, rec.Email, string(rec.Kind), rec.CreatedAt, rec.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// FindActiveToken returns the record for tokenID if it is neither revoked
// nor expired at now.
func (r *PostgresRepository) FindActiveToken(ctx context.Context, tokenID string, now time.Time) (*Record, error) {
	const query = `
SELECT t.token_id, t.user_id, u.email, t.kind, t.created_at, t.expires_at
FROM user_tokens t
JOIN users u ON u.id = t.user_id
WHERE t.token_id = $1 AND t.revoked_at IS NULL AND t.expires_at > $2
LIMIT 1`

	var (
		rec  Record
		kind string
	)
	err := r.db.QueryRowContext(ctx, query, tokenID, now).Scan(
		&rec.TokenID, &rec.UserID, &rec.Email, &kind, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	rec.Kind = TokenKind(kind)
	return &rec, nil
}

// RevokeToken marks tokenID revoked at now.
func (r *PostgresRepository) RevokeToken(ctx context.Context, tokenID string, now time.Time) error {
	const query = `UPDATE user_tokens SET revoked_at = $2 WHERE token_id = $1 AND revoked_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, tokenID, now); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeUserTokens revokes every active token of userID except
// exceptTokenID and returns the affected IDs.
func (r *PostgresRepository) RevokeUserTokens(
	ctx context.Context, userID, exceptTokenID string, now time.Time,
) ([]string, error) {
	const query = `
UPDATE user_tokens SET revoked_at = $3
WHERE user_id = $1 AND token_id <> $2 AND revoked_at IS NULL AND expires_at > $3
RETURNING token_id`

	rows, err := r.db.QueryContext(ctx, query, userID, exceptTokenID, now)
	if err != nil {
		return nil, fmt.Errorf("revoke user tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("revoke user tokens: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("revoke user tokens: %w", err)
	}
	return ids, nil
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
