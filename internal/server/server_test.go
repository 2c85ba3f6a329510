package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/morezero/crossmessenger/internal/config"
	"github.com/morezero/crossmessenger/pkg/messenger"
	"github.com/morezero/crossmessenger/pkg/semver"
)

const serverTestPrefix = "server:server_test"

const testCommsPort = 14280

func baseConfig(surface string) *config.Config {
	return &config.Config{
		COMMSURL:           "nats://127.0.0.1:14280",
		COMMSName:          "crossmessenger-test-" + surface,
		Group:              "srvtest",
		Surface:            surface,
		ReloadDebounce:     50 * time.Millisecond,
		TabsQueryTimeout:   time.Second,
		AgentVersion:       semver.ProtocolVersion,
		VersionConstraint:  semver.DefaultConstraint,
		JournalTimeout:     time.Second,
		HealthCheckTimeout: time.Second,
		LogLevel:           "info",
	}
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s := New(cfg)
	if err := s.Start(context.Background()); err != nil {
		s.Shutdown(context.Background())
		t.Fatalf("%s - Start(%s) failed: %v", serverTestPrefix, cfg.Surface, err)
	}
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s - timed out waiting for %s", serverTestPrefix, what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func decodePing(t *testing.T, raw json.RawMessage) PingResponse {
	t.Helper()
	var p PingResponse
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("%s - bad ping reply %s: %v", serverTestPrefix, raw, err)
	}
	return p
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("%s - parseLogLevel(%q) = %v, want %v", serverTestPrefix, tt.in, got, tt.want)
		}
	}
}

func TestHandler_Standalone(t *testing.T) {
	s := startServer(t, baseConfig(""))
	h := s.Handler()

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusOK},
		{"/connections", http.StatusNotFound},
		{"/presence", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s - GET %s = %d, want %d", serverTestPrefix, tt.path, rec.Code, tt.code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s - GET %s content type = %q", serverTestPrefix, tt.path, ct)
		}
	}
}

func TestHandler_HealthFailingCheck(t *testing.T) {
	s := New(baseConfig(""))
	s.checks["database"] = func(context.Context) error { return errors.New("down") }

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("%s - status = %d, want 503", serverTestPrefix, rec.Code)
	}
	var out healthOutput
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if out.Status != "unhealthy" || out.Checks["database"] != "down" {
		t.Errorf("%s - health = %+v", serverTestPrefix, out)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - /ready before Start = %d, want 503", serverTestPrefix, rec.Code)
	}
}

func TestHandleSignal_NotStarted(t *testing.T) {
	if !New(baseConfig("page")).HandleSignal(syscall.SIGTERM) {
		t.Error("server:server_test - an unstarted server should stop on any signal")
	}
}

func TestDrainTimeout(t *testing.T) {
	cfg := baseConfig("popup")
	if got := drainTimeout(cfg); got != 2*time.Second {
		t.Errorf("%s - drainTimeout = %s, want 2s", serverTestPrefix, got)
	}
	cfg.TabsQueryTimeout = 0
	if got := drainTimeout(cfg); got != 5*time.Second {
		t.Errorf("%s - drainTimeout without query timeout = %s, want 5s", serverTestPrefix, got)
	}
}

func TestPublish_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		p    PublishParams
	}{
		{"no event", baseConfig("popup"), PublishParams{}},
		{"reserved event", baseConfig("popup"), PublishParams{Event: "^cross-content-messenger-connect$"}},
		{"standalone", baseConfig(""), PublishParams{Event: "x"}},
		{"tabs without ids", baseConfig("popup"), PublishParams{Event: "x", Target: TargetTabs}},
	}
	for _, tt := range tests {
		if _, err := Publish(context.Background(), tt.cfg, tt.p); err == nil {
			t.Errorf("%s - %s: expected error", serverTestPrefix, tt.name)
		}
	}
}

// TestServe_EndToEnd runs an orchestrator with an embedded COMMS server, a
// tab host and a page-agent, then drives them the way the CLI does.
func TestServe_EndToEnd(t *testing.T) {
	ctx := context.Background()

	orchCfg := baseConfig("background")
	orchCfg.COMMSEmbedded = true
	orchCfg.COMMSEmbeddedPort = testCommsPort
	orch := startServer(t, orchCfg)

	seed := filepath.Join(t.TempDir(), "tabs.yaml")
	if err := os.WriteFile(seed, []byte("tabs:\n  - id: 3\n    windowId: 1\n    active: true\n  - id: 4\n    windowId: 1\n"), 0644); err != nil {
		t.Fatalf("%s - write seed: %v", serverTestPrefix, err)
	}
	hostCfg := baseConfig("tabs-host")
	hostCfg.TabsSeedFile = seed
	host, err := StartTabsHost(ctx, hostCfg)
	if err != nil {
		t.Fatalf("%s - StartTabsHost failed: %v", serverTestPrefix, err)
	}
	defer host.Stop()

	pageCfg := baseConfig("page")
	pageCfg.TabID = 3
	page := startServer(t, pageCfg)

	waitFor(t, "page registration", func() bool { return len(orch.Messenger().Snapshot()) == 1 })

	// /connections reflects the registry.
	rec := httptest.NewRecorder()
	orch.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections", nil))
	var conns struct {
		Count  int `json:"count"`
		Tabs   int `json:"tabs"`
		Frames int `json:"frames"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&conns); err != nil || conns.Count != 1 {
		t.Errorf("%s - /connections count = %d, err %v", serverTestPrefix, conns.Count, err)
	}
	if conns.Tabs != 1 || conns.Frames != 1 {
		t.Errorf("%s - /connections tabs=%d frames=%d, want 1/1", serverTestPrefix, conns.Tabs, conns.Frames)
	}
	rec = httptest.NewRecorder()
	orch.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("%s - orchestrator /health = %d", serverTestPrefix, rec.Code)
	}

	// A control panel pings the orchestrator.
	panelCfg := baseConfig("popup")
	reply, err := Publish(ctx, panelCfg, PublishParams{Event: PingEvent, Target: TargetOrchestrator, Wait: 2 * time.Second})
	if err != nil {
		t.Fatalf("%s - ping orchestrator failed: %v", serverTestPrefix, err)
	}
	if got := decodePing(t, reply); got.Role != "orchestrator" || got.Instance != orch.Messenger().ID() {
		t.Errorf("%s - orchestrator ping = %+v", serverTestPrefix, got)
	}

	// And the page-agent of tab 3 directly.
	reply, err = Publish(ctx, panelCfg, PublishParams{Event: PingEvent, Target: TargetTabs, TabIDs: []int{3}, Wait: 2 * time.Second})
	if err != nil {
		t.Fatalf("%s - ping tab 3 failed: %v", serverTestPrefix, err)
	}
	if got := decodePing(t, reply); got.Role != "page" || got.TabID != 3 {
		t.Errorf("%s - page ping = %+v", serverTestPrefix, got)
	}

	// The panel resolves the active tabs through the tab host.
	reply, err = Publish(ctx, panelCfg, PublishParams{Event: PingEvent, Target: TargetPages, Wait: 2 * time.Second})
	if err != nil {
		t.Fatalf("%s - ping pages failed: %v", serverTestPrefix, err)
	}
	if got := decodePing(t, reply); got.Role != "page" {
		t.Errorf("%s - pages ping = %+v", serverTestPrefix, got)
	}

	// Fire-and-forget sends that resolve tabs first still reach the page.
	var fired atomic.Int32
	page.Messenger().On("srvtest.fire", func(json.RawMessage, *messenger.Context) { fired.Add(1) })
	for _, target := range []string{TargetPages, TargetOthers, TargetAll} {
		before := fired.Load()
		if _, err := Publish(ctx, panelCfg, PublishParams{Event: "srvtest.fire", Target: target}); err != nil {
			t.Fatalf("%s - publish to %s without wait failed: %v", serverTestPrefix, target, err)
		}
		waitFor(t, "page delivery via "+target, func() bool { return fired.Load() > before })
	}

	// A simulated reload keeps the registration.
	if page.HandleSignal(syscall.SIGHUP) {
		t.Fatal("server:server_test - SIGHUP should not stop the page")
	}
	time.Sleep(150 * time.Millisecond)
	if len(orch.Messenger().Snapshot()) != 1 {
		t.Errorf("%s - reload dropped the registration", serverTestPrefix)
	}

	// SIGTERM closes the tab.
	if !page.HandleSignal(syscall.SIGTERM) {
		t.Fatal("server:server_test - SIGTERM should stop the page")
	}
	waitFor(t, "tab disconnect", func() bool { return len(orch.Messenger().Snapshot()) == 0 })
}
