package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/database"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const migrateUsage = "usage: wikiclip migrate up [n] | down [n] | status"

// runMigrate handles "wikiclip migrate ...".
func runMigrate(ctx context.Context, cfg *config.Config, args []string, out io.Writer, logger observability.Logger) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("%s", migrateUsage)
	}

	limit := 0
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid migration count %q", args[1])
		}
		limit = n
	}

	switch args[0] {
	case string(database.Up), string(database.Down), "status":
	default:
		return fmt.Errorf("unknown migrate command %q: %s", args[0], migrateUsage)
	}

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if args[0] == "status" {
		statuses, err := database.Status(db)
		if err != nil {
			return err
		}
		printStatus(out, statuses)
		return nil
	}

	n, err := database.Migrate(db, database.Direction(args[0]), limit, logger)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "applied %d migration(s) %s\n", n, args[0])
	return nil
}

func printStatus(out io.Writer, statuses []database.MigrationStatus) {
	for _, s := range statuses {
		applied := "pending"
		if s.Applied {
			applied = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(out, "%-28s %s\n", s.ID, applied)
	}
}
