package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/crossmessenger/pkg/events"
	"github.com/morezero/crossmessenger/pkg/tabs"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for the presence journal and the tab
// table. It implements events.EventPublisher and tabs.Store.
type Repository struct {
	pool *pgxpool.Pool
}

var (
	_ events.EventPublisher = (*Repository)(nil)
	_ tabs.Store            = (*Repository)(nil)
)

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =========================================================================
// PRESENCE JOURNAL
// =========================================================================

// PublishPresence appends event to the journal.
func (r *Repository) PublishPresence(ctx context.Context, event *events.PresenceChangedEvent) error {
	slog.Debug(fmt.Sprintf("%s - PublishPresence kind=%s tab=%d", repoLogPrefix, event.Kind, event.TabID))

	occurred := time.Now().UTC()
	if event.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, event.Timestamp); err == nil {
			occurred = ts
		}
	}
	group := event.Group
	if group == "" {
		group = "default"
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO presence_events (grp, kind, tab_id, frame_id, instance_id, agent_version, occurred)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)`,
		group, string(event.Kind), event.TabID, event.FrameID, event.InstanceID, event.AgentVersion, occurred)
	if err != nil {
		return fmt.Errorf("%s - PublishPresence failed: %w", repoLogPrefix, err)
	}
	return nil
}

// ListPresenceParams holds parameters for ListPresence.
type ListPresenceParams struct {
	Group string
	TabID *int
	Kind  string
	Page  int
	Limit int
}

// ListPresence lists journal rows, newest first, with optional filters. It
// also returns the total number of matching rows.
func (r *Repository) ListPresence(ctx context.Context, params ListPresenceParams) ([]PresenceEvent, int, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = 50
	}
	offset := (page - 1) * limit

	query := `SELECT id, grp, kind, tab_id, frame_id, instance_id, agent_version, occurred, created
	          FROM presence_events WHERE 1=1`
	countQuery := `SELECT COUNT(*)::int FROM presence_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if params.Group != "" {
		clause := fmt.Sprintf(` AND grp = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, params.Group)
		argIdx++
	}
	if params.TabID != nil {
		clause := fmt.Sprintf(` AND tab_id = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, *params.TabID)
		argIdx++
	}
	if params.Kind != "" {
		clause := fmt.Sprintf(` AND kind = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, params.Kind)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s - ListPresence count failed: %w", repoLogPrefix, err)
	}

	query += ` ORDER BY occurred DESC, created DESC`
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - ListPresence query failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []PresenceEvent
	for rows.Next() {
		var e PresenceEvent
		if err := rows.Scan(
			&e.ID, &e.Group, &e.Kind, &e.TabID, &e.FrameID,
			&e.InstanceID, &e.AgentVersion, &e.Occurred, &e.Created,
		); err != nil {
			return nil, 0, fmt.Errorf("%s - ListPresence scan failed: %w", repoLogPrefix, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s - ListPresence rows: %w", repoLogPrefix, err)
	}
	return out, total, nil
}

// =========================================================================
// TAB TABLE
// =========================================================================

// ListTabs returns the tabs matching f ordered by id.
func (r *Repository) ListTabs(ctx context.Context, f tabs.Filter) ([]tabs.Tab, error) {
	query := `SELECT id, window_id, active, focused, url, title, created, modified
	          FROM tabs WHERE 1=1`
	args := []any{}

	if f.Active {
		query += ` AND active`
	}
	if f.WindowID != 0 {
		args = append(args, f.WindowID)
		query += fmt.Sprintf(` AND window_id = $%d`, len(args))
	}
	if f.LastFocusedWindow {
		query += ` AND focused`
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - ListTabs failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	out := []tabs.Tab{}
	for rows.Next() {
		row, err := scanTab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row.toTab())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - ListTabs rows: %w", repoLogPrefix, err)
	}
	return out, nil
}

// GetTab finds a tab by id. It returns nil when the tab is unknown.
func (r *Repository) GetTab(ctx context.Context, id int) (*TabRow, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, window_id, active, focused, url, title, created, modified
		 FROM tabs WHERE id = $1`, id)
	t, err := scanTab(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// UpsertTab creates or replaces a tab.
func (r *Repository) UpsertTab(ctx context.Context, t tabs.Tab) (*TabRow, error) {
	slog.Info(fmt.Sprintf("%s - UpsertTab id=%d window=%d", repoLogPrefix, t.ID, t.WindowID))
	return upsertTab(ctx, r.pool, t)
}

// DeleteTab removes a tab and reports whether it existed.
func (r *Repository) DeleteTab(ctx context.Context, id int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tabs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("%s - DeleteTab failed: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected() > 0, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertTab(ctx context.Context, q querier, t tabs.Tab) (*TabRow, error) {
	if t.ID <= 0 {
		return nil, fmt.Errorf("%s - tab id must be positive, got %d", repoLogPrefix, t.ID)
	}
	row := q.QueryRow(ctx,
		`INSERT INTO tabs (id, window_id, active, focused, url, title)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		 ON CONFLICT (id) DO UPDATE SET
		   window_id = EXCLUDED.window_id,
		   active = EXCLUDED.active,
		   focused = EXCLUDED.focused,
		   url = EXCLUDED.url,
		   title = EXCLUDED.title,
		   modified = NOW()
		 RETURNING id, window_id, active, focused, url, title, created, modified`,
		t.ID, t.WindowID, t.Active, t.Focused, t.URL, t.Title)
	return scanTab(row)
}

func scanTab(row pgx.Row) (*TabRow, error) {
	var t TabRow
	err := row.Scan(&t.ID, &t.WindowID, &t.Active, &t.Focused, &t.URL, &t.Title, &t.Created, &t.Modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s - scan tab failed: %w", repoLogPrefix, err)
	}
	return &t, nil
}

func (t *TabRow) toTab() tabs.Tab {
	out := tabs.Tab{ID: t.ID, WindowID: t.WindowID, Active: t.Active, Focused: t.Focused}
	if t.URL != nil {
		out.URL = *t.URL
	}
	if t.Title != nil {
		out.Title = *t.Title
	}
	return out
}
