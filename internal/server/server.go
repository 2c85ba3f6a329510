// Package server wires a crossmessenger process: logging, COMMS, the optional
// database, the messenger and the HTTP health endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/crossmessenger/internal/config"
	"github.com/morezero/crossmessenger/pkg/commsutil"
	"github.com/morezero/crossmessenger/pkg/db"
	"github.com/morezero/crossmessenger/pkg/events"
	"github.com/morezero/crossmessenger/pkg/messenger"
	"github.com/morezero/crossmessenger/pkg/presence"
	"github.com/morezero/crossmessenger/pkg/role"
	"github.com/morezero/crossmessenger/pkg/tabs"
	"github.com/morezero/crossmessenger/pkg/transport"
)

const logPrefix = "server:server"

// PingEvent is answered by every serving process with its identity.
const PingEvent = "crossmessenger.ping"

// PingResponse is the reply to PingEvent.
type PingResponse struct {
	Instance string `json:"instance"`
	Role     string `json:"role"`
	TabID    int    `json:"tabId,omitempty"`
	FrameID  int    `json:"frameId,omitempty"`
	Time     string `json:"time"`
}

// healthCheck returns nil when the dependency is usable.
type healthCheck func(ctx context.Context) error

// Server is one crossmessenger process.
type Server struct {
	cfg        *config.Config
	ns         *commsserver.Server
	nc         *comms.Conn
	pool       *pgxpool.Pool
	repo       *db.Repository
	msgr       *messenger.Messenger
	httpServer *http.Server
	checks     map[string]healthCheck
}

// New creates a server for cfg. Nothing is started until Start.
func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg, checks: map[string]healthCheck{}}
}

// Messenger returns the process messenger, or nil before Start.
func (s *Server) Messenger() *messenger.Messenger {
	return s.msgr
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run(cfg *config.Config) error {
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting crossmessenger as %s", logPrefix, cfg.Role()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(cfg)
	if err := s.Start(ctx); err != nil {
		s.Shutdown(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	for sig := range sigCh {
		slog.Info(fmt.Sprintf("%s - Received signal %s", logPrefix, sig))
		if s.HandleSignal(sig) {
			break
		}
	}

	s.Shutdown(ctx)
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// SetupLogging installs a text slog handler on stdout at level.
func SetupLogging(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)})))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Start connects every dependency the configured role needs and starts the
// messenger and the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg
	r := cfg.Role()

	// Step 1: COMMS. A standalone process never touches the bus.
	if r != role.Standalone {
		ns, nc, err := connect(cfg)
		if err != nil {
			return err
		}
		s.ns, s.nc = ns, nc
		s.checks["comms"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	// Step 2: database journal (orchestrator only)
	var repo *db.Repository
	if r == role.Orchestrator && cfg.HasDatabase() {
		pool, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		s.pool = pool
		repo = db.NewRepository(pool)
		s.repo = repo
		s.checks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	// Step 3: messenger
	msgr, err := newMessenger(cfg, s.nc, repo)
	if err != nil {
		return err
	}
	s.msgr = msgr
	s.registerPing()

	// Step 4: HTTP health server
	if cfg.HTTPPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		s.httpServer = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, addr))
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
			}
		}()
	}

	slog.Info(fmt.Sprintf("%s - crossmessenger %s is ready", logPrefix, r))
	return nil
}

// connect starts the embedded COMMS server when configured and connects to it,
// or to COMMS_URL otherwise.
func connect(cfg *config.Config) (*commsserver.Server, *comms.Conn, error) {
	url := cfg.COMMSURL
	var ns *commsserver.Server
	if cfg.COMMSEmbedded {
		var err error
		ns, err = commsutil.StartEmbedded("127.0.0.1", cfg.COMMSEmbeddedPort)
		if err != nil {
			return nil, nil, fmt.Errorf("%s - failed to start embedded COMMS: %w", logPrefix, err)
		}
		url = ns.ClientURL()
	}
	nc, err := commsutil.Connect(url, cfg.COMMSName)
	if err != nil {
		if ns != nil {
			ns.Shutdown()
		}
		return nil, nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	return ns, nc, nil
}

// openDatabase connects and, when enabled, migrates.
func openDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	if cfg.RunMigrations {
		migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	return pool, nil
}

// newMessenger builds the messenger for the configured role. repo may be nil.
func newMessenger(cfg *config.Config, nc *comms.Conn, repo *db.Repository) (*messenger.Messenger, error) {
	r := cfg.Role()
	params := messenger.Params{
		Probe:   cfg.Probe(),
		FrameID: cfg.FrameID,
		Config: messenger.Config{
			Group:             cfg.Group,
			ReloadDebounce:    cfg.ReloadDebounce,
			PublishTimeout:    cfg.JournalTimeout,
			Version:           cfg.AgentVersion,
			VersionConstraint: cfg.VersionConstraint,
		},
	}

	if r != role.Standalone {
		tr, err := transport.NewComms(nc, transport.CommsParams{
			Group:   cfg.Group,
			Role:    r,
			TabID:   cfg.TabID,
			FrameID: cfg.FrameID,
		})
		if err != nil {
			return nil, err
		}
		params.Transport = tr
	}
	if r.IsExtension() {
		params.Tabs = tabs.NewCommsEnumerator(nc, cfg.Group, cfg.TabsQueryTimeout)
	}
	if r == role.Orchestrator {
		publishers := []events.EventPublisher{
			events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Group: cfg.Group}),
		}
		if repo != nil {
			publishers = append(publishers, repo)
		}
		params.Publisher = events.NewMultiPublisher(publishers...)
	}

	return messenger.New(params)
}

func (s *Server) registerPing() {
	s.msgr.On(PingEvent, func(_ json.RawMessage, c *messenger.Context) {
		c.Reply(PingResponse{
			Instance: s.msgr.ID(),
			Role:     s.msgr.Role().String(),
			TabID:    s.cfg.TabID,
			FrameID:  s.cfg.FrameID,
			Time:     time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// HandleSignal applies sig to the messenger and reports whether the process
// should stop. SIGHUP simulates a page reload. SIGINT and SIGTERM close the
// process; a top-frame page-agent treats them as its tab closing.
func (s *Server) HandleSignal(sig os.Signal) bool {
	if s.msgr == nil {
		return true
	}
	tracker := s.msgr.Lifecycle()

	switch sig {
	case syscall.SIGHUP:
		if tracker == nil {
			slog.Info(fmt.Sprintf("%s - SIGHUP ignored for %s", logPrefix, s.msgr.Role()))
			return false
		}
		slog.Info(fmt.Sprintf("%s - Simulating page reload", logPrefix))
		tracker.TeardownStarted()
		tracker.VisibilityRestored()
		return false
	default:
		if tracker != nil {
			tracker.TeardownStarted()
			tracker.ProcessExit()
			return true
		}
		if err := s.msgr.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - messenger close failed: %v", logPrefix, err))
		}
		return true
	}
}

// Shutdown stops everything Start created. It is safe after a failed Start.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
		cancel()
	}
	if s.msgr != nil {
		if err := s.msgr.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - messenger close failed: %v", logPrefix, err))
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.ns != nil {
		s.ns.Shutdown()
	}
}

// =========================================================================
// HTTP
// =========================================================================

// healthOutput is the body of GET /health.
type healthOutput struct {
	Status    string            `json:"status"`
	Role      string            `json:"role"`
	Instance  string            `json:"instance,omitempty"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Handler returns the HTTP mux: /health, /ready, /connections and /presence.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.msgr == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/connections", s.handleConnections)
	mux.HandleFunc("/presence", s.handlePresence)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()

	out := healthOutput{
		Status:    "healthy",
		Role:      s.cfg.Role().String(),
		Checks:    map[string]string{},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.msgr != nil {
		out.Instance = s.msgr.ID()
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			out.Status = "unhealthy"
			out.Checks[name] = err.Error()
			continue
		}
		out.Checks[name] = "ok"
	}

	code := http.StatusOK
	if out.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, out)
}

// handleConnections serves the connection registry snapshot. Only the
// orchestrator holds one.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if s.msgr == nil || s.msgr.Role() != role.Orchestrator {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection registry is only available in the orchestrator"})
		return
	}
	snap := s.msgr.Snapshot()
	if snap == nil {
		snap = []presence.Entry{}
	}
	tabCount, frameCount := s.msgr.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": snap,
		"count":       len(snap),
		"tabs":        tabCount,
		"frames":      frameCount,
	})
}

// handlePresence pages through the presence journal. Query parameters:
// tab, kind, page, limit.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "presence journal requires DATABASE_URL"})
		return
	}
	q := r.URL.Query()
	params := db.ListPresenceParams{Group: s.cfg.Group, Kind: q.Get("kind")}
	var err error
	if v := q.Get("tab"); v != "" {
		var tabID int
		if tabID, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tab must be an integer"})
			return
		}
		params.TabID = &tabID
	}
	if params.Page, err = atoiOr(q.Get("page"), 1); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "page must be an integer"})
		return
	}
	if params.Limit, err = atoiOr(q.Get("limit"), 50); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
		return
	}

	list, total, err := s.repo.ListPresence(r.Context(), params)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - list presence: %v", logPrefix, err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read presence journal"})
		return
	}
	if list == nil {
		list = []db.PresenceEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"total":  total,
		"page":   params.Page,
		"limit":  params.Limit,
	})
}

func atoiOr(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", logPrefix, err))
	}
}
