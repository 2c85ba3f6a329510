package db

import (
	"context"
	"path/filepath"
	"testing"
)

const seedTestPrefix = "db:seed_test"

func TestSeedTabs_EmptyPath(t *testing.T) {
	n, err := SeedTabs(context.Background(), nil, "", "")
	if err != nil || n != 0 {
		t.Errorf("%s - SeedTabs(\"\") = %d, %v; want 0, nil", seedTestPrefix, n, err)
	}
}

func TestResolveUnder(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		name    string
		path    string
		base    string
		wantErr bool
	}{
		{"no base", "tabs.yaml", "", false},
		{"inside base", filepath.Join(base, "tabs.yaml"), base, false},
		{"nested inside base", filepath.Join(base, "seed", "tabs.json"), base, false},
		{"parent of base", filepath.Join(base, ".."), base, true},
		{"sibling of base", filepath.Join(base, "..", "outside.yaml"), base, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveUnder(tt.path, tt.base)
			if (err != nil) != tt.wantErr {
				t.Errorf("%s - resolveUnder(%q, %q) err = %v, wantErr %v", seedTestPrefix, tt.path, tt.base, err, tt.wantErr)
			}
		})
	}
}

func TestSeedTabs_PathTraversalRejected(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Clean(filepath.Join(base, "..", "outside.yaml"))
	if _, err := SeedTabs(context.Background(), nil, outside, base); err == nil {
		t.Fatalf("%s - expected error for path outside baseDir", seedTestPrefix)
	}
}
