package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const migrationsLogPrefix = "db:migrations"

const downSuffix = ".down.sql"

// LoadMigrationFiles reads the forward .sql files from dir, sorted by name,
// and returns their contents. Files ending in .down.sql are skipped.
func LoadMigrationFiles(dir string) ([]string, error) {
	return loadSQL(dir, func(name string) bool {
		return filepath.Ext(name) == ".sql" && !strings.HasSuffix(name, downSuffix)
	})
}

// LoadDownMigrationFiles reads the .down.sql files from dir, sorted by name.
func LoadDownMigrationFiles(dir string) ([]string, error) {
	return loadSQL(dir, func(name string) bool {
		return strings.HasSuffix(name, downSuffix)
	})
}

func loadSQL(dir string, keep func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !keep(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, string(data))
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}
