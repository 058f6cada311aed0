// Package database opens the Postgres pool and owns the schema.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const driverName = "pgx"

// ErrNoDSN is returned when no data source name is configured.
var ErrNoDSN = errors.New("database dsn is required")

// Open opens and pings a connection pool.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, ErrNoDSN
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration())
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	var version string
	if err := db.QueryRowContext(pingCtx, "SELECT version()").Scan(&version); err == nil && logger != nil {
		logger.Info("database connected", observability.String("version", version))
	}
	return db, nil
}
