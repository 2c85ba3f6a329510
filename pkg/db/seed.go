package db

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/crossmessenger/pkg/tabs"
)

const seedLogPrefix = "db:seed"

// SeedTabs loads a tab seed file (JSON or YAML) and upserts every tab in one
// transaction. If baseDir is non-empty, path must resolve under baseDir.
func SeedTabs(ctx context.Context, pool *pgxpool.Pool, path string, baseDir string) (int, error) {
	if path == "" {
		return 0, nil
	}
	resolved, err := resolveUnder(path, baseDir)
	if err != nil {
		return 0, err
	}

	list, err := tabs.LoadSeedFile(resolved)
	if err != nil {
		return 0, fmt.Errorf("%s - load seed file: %w", seedLogPrefix, err)
	}
	if len(list) == 0 {
		slog.Info(fmt.Sprintf("%s - no tabs to seed", seedLogPrefix))
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s - begin tx: %w", seedLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	for _, t := range list {
		if _, err := upsertTab(ctx, tx, t); err != nil {
			return 0, fmt.Errorf("%s - tab %d: %w", seedLogPrefix, t.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s - commit: %w", seedLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - seeded %d tabs from %s", seedLogPrefix, len(list), resolved))
	return len(list), nil
}

// resolveUnder rejects paths that escape baseDir.
func resolveUnder(path, baseDir string) (string, error) {
	if baseDir == "" {
		return path, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%s - resolve path: %w", seedLogPrefix, err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("%s - resolve base dir: %w", seedLogPrefix, err)
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return "", fmt.Errorf("%s - path not under base: %w", seedLogPrefix, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s - path must be under base directory", seedLogPrefix)
	}
	return absPath, nil
}
