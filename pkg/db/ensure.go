package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const ensureLogPrefix = "db:ensure"

// journalDBName is what a presence journal database may be called. The name
// is interpolated into CREATE DATABASE, so nothing that needs quoting rules
// beyond plain identifiers is accepted.
var journalDBName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// journalExtensions are enabled in the journal database. pgcrypto provides
// gen_random_uuid for presence_events ids on Postgres before 13.
var journalExtensions = []string{"pgcrypto"}

// journalTarget is a parsed DATABASE_URL split into the journal database
// and the maintenance database used to create it.
type journalTarget struct {
	name        string
	maintenance string
}

func parseJournalTarget(databaseURL string) (journalTarget, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return journalTarget{}, fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	name := strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	switch {
	case name == "":
		return journalTarget{}, fmt.Errorf("%s - no database name in URL", ensureLogPrefix)
	case !journalDBName.MatchString(name):
		return journalTarget{}, fmt.Errorf("%s - database name %q must be letters, digits and underscores", ensureLogPrefix, name)
	}
	return journalTarget{name: name, maintenance: maintenanceURL(u)}, nil
}

// maintenanceURL is u pointed at the postgres database, keeping host,
// credentials and query.
func maintenanceURL(u *url.URL) string {
	m := *u
	m.Path = "/postgres"
	return m.String()
}

// EnsureDatabase prepares the presence journal database named in
// databaseURL: it is created through the maintenance database when missing
// and its extensions are enabled. Run it before NewPool and migrations.
func EnsureDatabase(ctx context.Context, databaseURL string) error {
	target, err := parseJournalTarget(databaseURL)
	if err != nil {
		return err
	}
	if err := createIfMissing(ctx, target); err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to %q: %w", ensureLogPrefix, target.name, err)
	}
	defer conn.Close(ctx)

	for _, ext := range journalExtensions {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS "+quoteIdent(ext)); err != nil {
			return fmt.Errorf("%s - failed to enable %s: %w", ensureLogPrefix, ext, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - Journal database %q ready", ensureLogPrefix, target.name))
	return nil
}

func createIfMissing(ctx context.Context, target journalTarget) error {
	cfg, err := pgx.ParseConfig(target.maintenance)
	if err != nil {
		return fmt.Errorf("%s - failed to parse maintenance URL: %w", ensureLogPrefix, err)
	}
	// CREATE DATABASE cannot run inside the implicit transaction of an
	// extended-protocol statement.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to maintenance database: %w", ensureLogPrefix, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, target.name).Scan(&exists); err != nil {
		return fmt.Errorf("%s - failed to look up %q: %w", ensureLogPrefix, target.name, err)
	}
	if exists {
		slog.Debug(fmt.Sprintf("%s - Journal database %q already exists", ensureLogPrefix, target.name))
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Creating journal database %q", ensureLogPrefix, target.name))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+quoteIdent(target.name)); err != nil {
		return fmt.Errorf("%s - failed to create %q: %w", ensureLogPrefix, target.name, err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
