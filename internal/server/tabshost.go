package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/crossmessenger/internal/config"
	"github.com/morezero/crossmessenger/pkg/db"
	"github.com/morezero/crossmessenger/pkg/tabs"
)

const tabsHostLogPrefix = "server:tabshost"

// TabsHost answers tab enumeration queries for a group. Tabs come from the
// database when DATABASE_URL is set and from TABS_SEED_FILE otherwise.
type TabsHost struct {
	ns   *commsserver.Server
	nc   *comms.Conn
	pool *pgxpool.Pool
	host *tabs.Host
}

// StartTabsHost connects and starts answering queries.
func StartTabsHost(ctx context.Context, cfg *config.Config) (*TabsHost, error) {
	h := &TabsHost{}

	store, err := h.openStore(ctx, cfg)
	if err != nil {
		h.Stop()
		return nil, err
	}

	ns, nc, err := connect(cfg)
	if err != nil {
		h.Stop()
		return nil, err
	}
	h.ns, h.nc = ns, nc

	h.host = tabs.NewHost(nc, cfg.Group, store)
	if err := h.host.Start(); err != nil {
		h.Stop()
		return nil, err
	}
	if err := nc.Flush(); err != nil {
		h.Stop()
		return nil, fmt.Errorf("%s - flush failed: %w", tabsHostLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Tab host ready for group %s", tabsHostLogPrefix, cfg.Group))
	return h, nil
}

func (h *TabsHost) openStore(ctx context.Context, cfg *config.Config) (tabs.Store, error) {
	if cfg.HasDatabase() {
		pool, err := openDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		h.pool = pool
		if cfg.TabsSeedFile != "" {
			if _, err := db.SeedTabs(ctx, pool, cfg.TabsSeedFile, ""); err != nil {
				return nil, err
			}
		}
		return db.NewRepository(pool), nil
	}

	var seed []tabs.Tab
	if cfg.TabsSeedFile != "" {
		list, err := tabs.LoadSeedFile(cfg.TabsSeedFile)
		if err != nil {
			return nil, err
		}
		seed = list
	} else {
		slog.Warn(fmt.Sprintf("%s - No DATABASE_URL or TABS_SEED_FILE; serving an empty tab list", tabsHostLogPrefix))
	}
	return tabs.NewStaticStore(seed), nil
}

// Stop releases everything StartTabsHost acquired.
func (h *TabsHost) Stop() {
	if h.host != nil {
		if err := h.host.Stop(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe failed: %v", tabsHostLogPrefix, err))
		}
	}
	if h.nc != nil {
		h.nc.Close()
	}
	if h.pool != nil {
		h.pool.Close()
	}
	if h.ns != nil {
		h.ns.Shutdown()
	}
}

// RunTabsHost runs a tab host until SIGINT or SIGTERM.
func RunTabsHost(cfg *config.Config) error {
	SetupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := StartTabsHost(ctx, cfg)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", tabsHostLogPrefix, sig))

	h.Stop()
	return nil
}
