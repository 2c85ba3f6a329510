package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearPresence empties the presence journal and the tab table. The schema
// is kept.
func ClearPresence(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing presence_events and tabs", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE presence_events, tabs`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Presence data cleared", clearLogPrefix))
	return nil
}
