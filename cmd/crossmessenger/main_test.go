package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/morezero/crossmessenger/internal/config"
	"github.com/morezero/crossmessenger/internal/server"
)

const mainTestPrefix = "cmd/crossmessenger:main_test"

func TestUsage_NonEmpty(t *testing.T) {
	if len(usage) == 0 {
		t.Fatalf("%s - usage string is empty", mainTestPrefix)
	}
}

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "publish", "tabs-host", "migrate", "clear", "seed", "ensure-db", "DATABASE_URL", "MESSENGER_SURFACE"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestParseServeFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     config.Config
		want    config.Config
		wantErr bool
	}{
		{
			name: "no flags keeps environment",
			env:  config.Config{Surface: "page", TabID: 4, FrameID: 1, Group: "g"},
			want: config.Config{Surface: "page", TabID: 4, FrameID: 1, Group: "g"},
		},
		{
			name: "flags override environment",
			args: []string{"--surface", "page", "--tab", "9", "--frame", "2", "--group", "ext"},
			env:  config.Config{Surface: "background", Group: "default"},
			want: config.Config{Surface: "page", TabID: 9, FrameID: 2, Group: "ext"},
		},
		{
			name: "explicit empty surface selects standalone",
			args: []string{"--surface="},
			env:  config.Config{Surface: "popup"},
			want: config.Config{Surface: ""},
		},
		{
			name:    "unknown flag",
			args:    []string{"--nope"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.env
			err := parseServeFlags(tt.args, &cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("%s - expected error", mainTestPrefix)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
			}
			if cfg.Surface != tt.want.Surface || cfg.TabID != tt.want.TabID || cfg.FrameID != tt.want.FrameID || cfg.Group != tt.want.Group {
				t.Errorf("%s - got surface=%q tab=%d frame=%d group=%q, want %+v",
					mainTestPrefix, cfg.Surface, cfg.TabID, cfg.FrameID, cfg.Group, tt.want)
			}
		})
	}
}

func TestParsePublishFlags_Defaults(t *testing.T) {
	cfg := config.Config{HTTPPort: 8080}
	p, err := parsePublishFlags([]string{"refresh"}, &cfg)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	if cfg.Surface != "popup" {
		t.Errorf("%s - surface = %q, want popup", mainTestPrefix, cfg.Surface)
	}
	if cfg.HTTPPort != 0 {
		t.Errorf("%s - publish must not serve HTTP, port = %d", mainTestPrefix, cfg.HTTPPort)
	}
	if p.Event != "refresh" || p.Target != server.TargetOthers || p.Wait != 5*time.Second {
		t.Errorf("%s - params = %+v", mainTestPrefix, p)
	}
	if p.Data != nil || p.FrameID != nil || len(p.TabIDs) != 0 {
		t.Errorf("%s - unexpected optional params %+v", mainTestPrefix, p)
	}
}

func TestParsePublishFlags_EnvironmentSurfaceKept(t *testing.T) {
	cfg := config.Config{Surface: "background"}
	if _, err := parsePublishFlags([]string{"x"}, &cfg); err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	if cfg.Surface != "background" {
		t.Errorf("%s - surface = %q, want background", mainTestPrefix, cfg.Surface)
	}
}

func TestParsePublishFlags_Tabs(t *testing.T) {
	cfg := config.Config{}
	args := []string{"highlight", "--target", "tabs", "--tab", "3", "--tab", "7", "--to-frame", "0",
		"--data", `{"color":"red"}`, "--wait", "0", "--surface", "page", "--from-tab", "2"}
	p, err := parsePublishFlags(args, &cfg)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	if p.Target != server.TargetTabs || len(p.TabIDs) != 2 || p.TabIDs[0] != 3 || p.TabIDs[1] != 7 {
		t.Errorf("%s - params = %+v", mainTestPrefix, p)
	}
	if p.FrameID == nil || *p.FrameID != 0 {
		t.Errorf("%s - frame = %v, want 0", mainTestPrefix, p.FrameID)
	}
	if string(p.Data) != `{"color":"red"}` || p.Wait != 0 {
		t.Errorf("%s - data=%s wait=%s", mainTestPrefix, p.Data, p.Wait)
	}
	if cfg.Surface != "page" || cfg.TabID != 2 {
		t.Errorf("%s - surface=%q tab=%d", mainTestPrefix, cfg.Surface, cfg.TabID)
	}
}

func TestParsePublishFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no event", nil},
		{"two events", []string{"a", "b"}},
		{"invalid data", []string{"a", "--data", "{nope"}},
		{"bad wait", []string{"a", "--wait", "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{}
			if _, err := parsePublishFlags(tt.args, &cfg); err == nil {
				t.Errorf("%s - expected error", mainTestPrefix)
			}
		})
	}
}

func TestParseTabsHostFlags(t *testing.T) {
	cfg := config.Config{TabsSeedFile: "env.yaml", Group: "default"}
	if err := parseTabsHostFlags([]string{"--seed", "tabs.yaml", "--group", "ext"}, &cfg); err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	if cfg.TabsSeedFile != "tabs.yaml" || cfg.Group != "ext" {
		t.Errorf("%s - seed=%q group=%q", mainTestPrefix, cfg.TabsSeedFile, cfg.Group)
	}
}

func TestWithDatabaseName(t *testing.T) {
	got, err := withDatabaseName("postgres://u:p@localhost:5432/app?sslmode=disable", "crossmessenger_test")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
	}
	want := "postgres://u:p@localhost:5432/crossmessenger_test?sslmode=disable"
	if got != want {
		t.Errorf("%s - got %q, want %q", mainTestPrefix, got, want)
	}
}

func TestSeedBaseDir(t *testing.T) {
	wd := func() (string, error) { return "/srv/xm", nil }
	broken := func() (string, error) { return "", errors.New("getwd: no such file or directory") }

	tests := []struct {
		name     string
		override string
		getwd    func() (string, error)
		want     string
		wantErr  bool
	}{
		{name: "environment path has no base", getwd: broken, want: ""},
		{name: "command line path is confined", override: "tabs.yaml", getwd: wd, want: "/srv/xm"},
		{name: "unknown working directory fails", override: "tabs.yaml", getwd: broken, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := seedBaseDir(tt.override, tt.getwd)
			if tt.wantErr {
				if err == nil {
					t.Errorf("%s - expected error, got base %q", mainTestPrefix, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", mainTestPrefix, err)
			}
			if got != tt.want {
				t.Errorf("%s - base = %q, want %q", mainTestPrefix, got, tt.want)
			}
		})
	}
}
