// Package main is the entrypoint for crossmessenger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"github.com/morezero/crossmessenger/internal/config"
	"github.com/morezero/crossmessenger/internal/server"
	"github.com/morezero/crossmessenger/pkg/db"
)

const usage = `Usage: crossmessenger [command] [flags]
       crossmessenger serve [--surface s] [--tab n] [--frame n] [--group g]
                                       Run one messenger surface (orchestrator, panel or page).
       crossmessenger publish <event> [--target t] [--tab n]... [--data json] [--wait d]
                                       Join the bus once, send an event and print the first reply.
       crossmessenger tabs-host [--seed file] [--group g]
                                       Answer tab enumeration queries from the database or a seed file.
       crossmessenger migrate up        Run database migrations.
       crossmessenger migrate down      Drop the schema using the *.down.sql files.
       crossmessenger migrate status    Show migration status.
       crossmessenger ensure-db [name]  Create database if missing (default name: crossmessenger_test). Uses DATABASE_URL host/user.
       crossmessenger clear             Truncate presence_events and tabs; schema is preserved.
       crossmessenger seed [file]       Load tabs from a JSON/YAML seed file (default TABS_SEED_FILE).

Surfaces: background (orchestrator), popup (control panel), page (page-agent), empty (standalone).
Publish targets: others (default), all, orchestrator, panel, pages, tabs.

Environment: COMMS_URL, COMMS_EMBEDDED, MESSENGER_GROUP, MESSENGER_SURFACE, MESSENGER_TAB_ID,
MESSENGER_FRAME_ID, MESSENGER_RELOAD_DEBOUNCE, DATABASE_URL, RUN_MIGRATIONS, MIGRATION_PATH,
TABS_SEED_FILE, HTTP_PORT, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "migrate":
		if len(args) < 1 {
			log.Fatalf("crossmessenger migrate: require subcommand (up, down, status)")
		}
		sub := args[0]
		var err error
		switch sub {
		case "up":
			err = withPool(runMigrateUp)
		case "status":
			err = withPool(runMigrateStatus)
		case "down":
			err = withPool(runMigrateDown)
		default:
			log.Fatalf("crossmessenger migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		if err != nil {
			log.Fatalf("crossmessenger migrate %s: %v", sub, err)
		}
		return
	case "clear":
		if err := withPool(runClear); err != nil {
			log.Fatalf("crossmessenger clear: %v", err)
		}
		return
	case "seed":
		if err := runSeed(args); err != nil {
			log.Fatalf("crossmessenger seed: %v", err)
		}
		return
	case "ensure-db":
		dbName := "crossmessenger_test"
		if len(args) > 0 && args[0] != "" {
			dbName = args[0]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("crossmessenger ensure-db: %v", err)
		}
		return
	case "publish":
		if err := runPublish(args); err != nil {
			log.Fatalf("crossmessenger publish: %v", err)
		}
		return
	case "tabs-host":
		cfg, err := loadConfig()
		if err == nil {
			err = parseTabsHostFlags(args, cfg)
		}
		if err == nil {
			err = server.RunTabsHost(cfg)
		}
		if err != nil {
			log.Fatalf("crossmessenger tabs-host: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err == nil {
		err = parseServeFlags(args, cfg)
	}
	if err == nil {
		err = server.Run(cfg)
	}
	if err != nil {
		log.Fatalf("crossmessenger: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// identityFlags are the flags that override the messenger identity from
// the environment.
type identityFlags struct {
	surface string
	group   string
	tab     int
	frame   int
}

func (f *identityFlags) register(fs *pflag.FlagSet, defaultSurface string) {
	fs.StringVar(&f.surface, "surface", defaultSurface, "surface: background, popup, page or empty")
	fs.StringVar(&f.group, "group", "", "subject namespace (MESSENGER_GROUP)")
	fs.IntVar(&f.frame, "frame", 0, "frame id of a page surface")
}

func (f *identityFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("surface") || (cfg.Surface == "" && f.surface != "") {
		cfg.Surface = f.surface
	}
	if fs.Changed("group") {
		cfg.Group = f.group
	}
	if fs.Changed("frame") {
		cfg.FrameID = f.frame
	}
}

func parseServeFlags(args []string, cfg *config.Config) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	var id identityFlags
	id.register(fs, "")
	fs.IntVar(&id.tab, "tab", 0, "tab id of a page surface")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id.apply(fs, cfg)
	if fs.Changed("tab") {
		cfg.TabID = id.tab
	}
	return nil
}

func parseTabsHostFlags(args []string, cfg *config.Config) error {
	fs := pflag.NewFlagSet("tabs-host", pflag.ContinueOnError)
	seed := fs.String("seed", "", "tab seed file (TABS_SEED_FILE)")
	group := fs.String("group", "", "subject namespace (MESSENGER_GROUP)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.Changed("seed") {
		cfg.TabsSeedFile = *seed
	}
	if fs.Changed("group") {
		cfg.Group = *group
	}
	return nil
}

// parsePublishFlags reads `publish <event> [flags]`. The surface defaults to
// popup so a bare publish acts as a control panel.
func parsePublishFlags(args []string, cfg *config.Config) (server.PublishParams, error) {
	fs := pflag.NewFlagSet("publish", pflag.ContinueOnError)
	var id identityFlags
	id.register(fs, "popup")
	target := fs.String("target", server.TargetOthers, "destination: others, all, orchestrator, panel, pages, tabs")
	tabIDs := fs.IntSlice("tab", nil, "destination tab id for --target tabs; repeatable")
	fromTab := fs.Int("from-tab", 0, "tab id when publishing as a page surface")
	toFrame := fs.Int("to-frame", -1, "deliver only to this frame of each tab")
	data := fs.String("data", "", "JSON payload")
	wait := fs.Duration("wait", 5*time.Second, "how long to wait for a reply; 0 sends without waiting")

	var p server.PublishParams
	if err := fs.Parse(args); err != nil {
		return p, err
	}
	if fs.NArg() != 1 {
		return p, errors.New("exactly one event name is required")
	}
	id.apply(fs, cfg)
	if fs.Changed("from-tab") {
		cfg.TabID = *fromTab
	}
	// A one-shot publisher never serves HTTP or hosts the bus.
	cfg.HTTPPort = 0

	if *data != "" && !json.Valid([]byte(*data)) {
		return p, fmt.Errorf("--data is not valid JSON")
	}
	p = server.PublishParams{
		Event:  fs.Arg(0),
		Target: *target,
		TabIDs: *tabIDs,
		Wait:   *wait,
	}
	if *data != "" {
		p.Data = json.RawMessage(*data)
	}
	if *toFrame >= 0 {
		frame := *toFrame
		p.FrameID = &frame
	}
	return p, nil
}

func runPublish(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := parsePublishFlags(args, cfg)
	if err != nil {
		return err
	}
	server.SetupLogging(cfg.LogLevel)

	reply, err := server.Publish(context.Background(), cfg, p)
	if errors.Is(err, server.ErrNoReply) {
		fmt.Println("no reply")
		return nil
	}
	if err != nil {
		return err
	}
	if len(reply) > 0 {
		fmt.Println(string(reply))
	}
	return nil
}

// withPool runs fn with a pool for DATABASE_URL.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
}

func runMigrateDown(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	return db.MigrationDown(ctx, pool, cfg.MigrationPath)
}

func runClear(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
	if err := db.ClearPresence(ctx, pool); err != nil {
		return fmt.Errorf("clear presence: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	targetURL, err := withDatabaseName(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

// withDatabaseName replaces the database of rawURL, keeping its query.
func withDatabaseName(rawURL, dbName string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func runSeed(args []string) error {
	fileOverride := ""
	if len(args) > 0 {
		fileOverride = args[0]
	}
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		path := fileOverride
		if path == "" {
			path = cfg.TabsSeedFile
		}
		if path == "" {
			return errors.New("no seed file: pass one or set TABS_SEED_FILE")
		}
		baseDir, err := seedBaseDir(fileOverride, os.Getwd)
		if err != nil {
			return err
		}
		n, err := db.SeedTabs(ctx, pool, path, baseDir)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d tabs from %s.\n", n, path)
		return nil
	})
}

// seedBaseDir is the directory a seed path given on the command line must
// stay inside. Paths from the environment are trusted and get no base.
func seedBaseDir(fileOverride string, getwd func() (string, error)) (string, error) {
	if fileOverride == "" {
		return "", nil
	}
	dir, err := getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return dir, nil
}
