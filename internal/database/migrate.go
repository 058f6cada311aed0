package database

import (
	"database/sql"
	"fmt"
	"time"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const (
	migrationTable = "migration_info"
	dialect        = "postgres"
)

// Direction selects which way Migrate moves the schema.
type Direction string

// Directions.
const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migrations returns the schema migrations in order.
func Migrations() *migrate.MemoryMigrationSource {
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001_users",
				Up: []string{`
CREATE TABLE IF NOT EXISTS users (
    id            UUID        PRIMARY KEY,
    email         TEXT        NOT NULL UNIQUE,
    password_hash TEXT        NOT NULL,
    pending_email TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
				Down: []string{`DROP TABLE IF EXISTS users`},
			},
			{
				Id: "0002_user_tokens",
				Up: []string{`
CREATE TABLE IF NOT EXISTS user_tokens (
    token_id   TEXT        PRIMARY KEY,
    user_id    UUID        NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    email      TEXT        NOT NULL,
    kind       TEXT        NOT NULL CHECK (kind IN ('session', 'user_key')),
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    revoked_at TIMESTAMPTZ
)`,
					`CREATE INDEX IF NOT EXISTS user_tokens_user_active_idx
    ON user_tokens (user_id) WHERE revoked_at IS NULL`,
				},
				Down: []string{`DROP TABLE IF EXISTS user_tokens`},
			},
			{
				Id: "0003_authentication_log",
				Up: []string{`
CREATE TABLE IF NOT EXISTS authentication_log (
    id         BIGSERIAL   PRIMARY KEY,
    event_id   TEXT        NOT NULL,
    user_id    TEXT,
    email      TEXT        NOT NULL DEFAULT '',
    event      TEXT        NOT NULL,
    outcome    TEXT        NOT NULL,
    reason     TEXT        NOT NULL DEFAULT '',
    request_id TEXT        NOT NULL DEFAULT '',
    ip_address TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
)`,
					`CREATE INDEX IF NOT EXISTS authentication_log_user_idx
    ON authentication_log (user_id, created_at DESC)`,
				},
				Down: []string{`DROP TABLE IF EXISTS authentication_log`},
			},
		},
	}
}

// Migrate applies up to limit migrations in direction; limit <= 0 means
// all of them for Up and one for Down.
func Migrate(db *sql.DB, direction Direction, limit int, logger observability.Logger) (int, error) {
	migrate.SetTable(migrationTable)

	dir := migrate.Up
	switch direction {
	case Up:
		if limit < 0 {
			limit = 0
		}
	case Down:
		dir = migrate.Down
		if limit <= 0 {
			limit = 1
		}
	default:
		return 0, fmt.Errorf("unknown migration direction %q", direction)
	}

	n, err := migrate.ExecMax(db, dialect, Migrations(), dir, limit)
	if err != nil {
		return n, fmt.Errorf("migrate %s: %w", direction, err)
	}
	logger.Info("migrations applied",
		observability.String("direction", string(direction)),
		observability.Int("count", n))
	return n, nil
}

// MigrationStatus is one migration and when it was applied.
type MigrationStatus struct {
	ID        string
	Applied   bool
	AppliedAt time.Time
}

// Status lists every known migration with its applied state.
func Status(db *sql.DB) ([]MigrationStatus, error) {
	migrate.SetTable(migrationTable)

	migrations, err := Migrations().FindMigrations()
	if err != nil {
		return nil, fmt.Errorf("find migrations: %w", err)
	}
	records, err := migrate.GetMigrationRecords(db, dialect)
	if err != nil {
		return nil, fmt.Errorf("migration records: %w", err)
	}

	applied := make(map[string]time.Time, len(records))
	for _, r := range records {
		applied[r.Id] = r.AppliedAt
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		at, ok := applied[m.Id]
		out = append(out, MigrationStatus{ID: m.Id, Applied: ok, AppliedAt: at})
	}
	return out, nil
}
