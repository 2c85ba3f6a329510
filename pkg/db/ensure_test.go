package db

import (
	"context"
	"strings"
	"testing"
)

const ensureTestPrefix = "db:ensure_test"

func TestParseJournalTarget(t *testing.T) {
	tests := []struct {
		name            string
		url             string
		wantName        string
		wantMaintenance string
		wantErr         bool
	}{
		{
			name:            "keeps credentials and query",
			url:             "postgres://xm:secret@db:5432/crossmessenger?sslmode=disable",
			wantName:        "crossmessenger",
			wantMaintenance: "postgres://xm:secret@db:5432/postgres?sslmode=disable",
		},
		{
			name:            "test database",
			url:             "postgres://localhost/crossmessenger_test",
			wantName:        "crossmessenger_test",
			wantMaintenance: "postgres://localhost/postgres",
		},
		{name: "unparseable", url: "://nope", wantErr: true},
		{name: "no database", url: "postgres://localhost:5432/?sslmode=disable", wantErr: true},
		{name: "hyphenated name", url: "postgres://localhost/presence-journal", wantErr: true},
		{name: "quoted name", url: `postgres://localhost/a%22b`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseJournalTarget(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Errorf("%s - expected error for %q, got %+v", ensureTestPrefix, tt.url, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", ensureTestPrefix, err)
			}
			if got.name != tt.wantName || got.maintenance != tt.wantMaintenance {
				t.Errorf("%s - got name=%q maintenance=%q, want %q %q",
					ensureTestPrefix, got.name, got.maintenance, tt.wantName, tt.wantMaintenance)
			}
		})
	}
}

func TestQuoteIdent(t *testing.T) {
	tests := map[string]string{
		"pgcrypto":      `"pgcrypto"`,
		"presence_2024": `"presence_2024"`,
		`we"ird`:        `"we""ird"`,
	}
	for in, want := range tests {
		if got := quoteIdent(in); got != want {
			t.Errorf("%s - quoteIdent(%q) = %q, want %q", ensureTestPrefix, in, got, want)
		}
	}
}

func TestEnsureDatabase_RejectsBadTargetBeforeConnecting(t *testing.T) {
	// Nothing listens on port 1, so only name validation can produce this error.
	err := EnsureDatabase(context.Background(), "postgres://127.0.0.1:1/no-such-db")
	if err == nil || !strings.Contains(err.Error(), "letters, digits and underscores") {
		t.Fatalf("%s - err = %v, want name validation error", ensureTestPrefix, err)
	}
}
