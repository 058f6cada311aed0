package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	"github.com/vyrodovalexey/wikiclip/internal/audit"
	"github.com/vyrodovalexey/wikiclip/internal/auth"
)

// PostgresRepository stores users in the users table.
type PostgresRepository struct {
	db *sql.DB
}

var _ UserRepository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository over db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// CreateUser inserts u.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *User) error {
	const query = `
INSERT INTO users (id, email, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const selectUser = `
SELECT id, email, password_hash, COALESCE(pending_email, ''), created_at, updated_at
FROM users `

func (r *PostgresRepository) getUser(ctx context.Context, where string, arg string) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, selectUser+where, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.PendingEmail, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByID returns the user with id.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "WHERE id = $1", id)
}

// GetUserByEmail returns the user with email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "WHERE email = $1", email)
}

// UpdatePassword replaces the user's password hash.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, hash string, now time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, hash, now)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res, ErrNotFound)
}

// SetPendingEmail records email as pending for id.
func (r *PostgresRepository) SetPendingEmail(ctx context.Context, id, email string, now time.Time) error {
	const query = `
UPDATE users SET pending_email = $2, updated_at = $3
WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM users WHERE email = $2)`

	res, err := r.db.ExecContext(ctx, query, id, email, now)
	if err != nil {
		return fmt.Errorf("set pending email: %w", err)
	}
	if err := requireRow(res, ErrEmailTaken); err != nil {
		// Distinguish an unknown user from a taken address.
		if _, getErr := r.GetUserByID(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// ConfirmEmail applies the pending email if it equals email.
func (r *PostgresRepository) ConfirmEmail(ctx context.Context, id, email string, now time.Time) error {
	const query = `
UPDATE users SET email = pending_email, pending_email = NULL, updated_at = $3
WHERE id = $1 AND pending_email = $2`

	res, err := r.db.ExecContext(ctx, query, id, email, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("confirm email: %w", err)
	}
	return requireRow(res, ErrNoPendingEmail)
}

// Ping checks the connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func requireRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}

// AuthLogSink writes identity-flow audit events to the
// authentication_log table. Gate decisions are recorded only when they
// concern an Action JWT, so the table shows whether a refused link was
// expired or already consumed.
type AuthLogSink struct {
	db *sql.DB
}

var _ audit.Sink = (*AuthLogSink)(nil)

// NewAuthLogSink creates a sink over db.
func NewAuthLogSink(db *sql.DB) *AuthLogSink {
	return &AuthLogSink{db: db}
}

// Record implements audit.Sink.
func (s *AuthLogSink) Record(ctx context.Context, e *audit.Event) error {
	if !authLogged(e) {
		return nil
	}

	const query = `
INSERT INTO authentication_log (event_id, user_id, email, event, outcome, reason, request_id, ip_address, created_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)`

	var userID, email, ip string
	if e.Subject != nil {
		userID, email, ip = e.Subject.ID, e.Subject.Email, e.Subject.IPAddress
	}
	event := string(e.Action)
	if e.Action == audit.ActionGateCheck {
		event = string(audit.ActionActionTokenRejected)
		if e.Outcome == audit.OutcomeSuccess {
			event = string(audit.ActionActionTokenConsumed)
		}
	}

	if _, err := s.db.ExecContext(ctx, query,
		e.ID, userID, email, event, string(e.Outcome), e.Reason, e.RequestID, ip, e.Timestamp,
	); err != nil {
		return fmt.Errorf("insert authentication log: %w", err)
	}
	return nil
}

func authLogged(e *audit.Event) bool {
	switch e.Type {
	case audit.EventTypeAccount, audit.EventTypeSecurity:
		return true
	case audit.EventTypeAuthentication:
		return e.Factor == string(auth.FactorActionToken)
	default:
		return false
	}
}
