// Package sqlite stores the mutation queue and the progress buffer in a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/briangreenhill/streamsync/internal/progress"
	"github.com/briangreenhill/streamsync/internal/queue"
	"github.com/briangreenhill/streamsync/internal/storage/sqlite/migrations"
)

// Store implements queue.Store and progress.Store
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and applies migrations
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) AppendMutation(ctx context.Context, m queue.Mutation) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	var payload any
	if len(m.Payload) > 0 {
		payload = []byte(m.Payload)
	}
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO mutation_queue (tag, method, endpoint, payload, enqueued_at)
VALUES (?, ?, ?, ?, ?)
`, m.Tag, m.Method, m.Endpoint, payload, m.EnqueuedAt.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("append mutation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("mutation id: %w", err)
	}
	return id, nil
}

func (s *Store) ListMutations(ctx context.Context, tag string) ([]queue.Mutation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, tag, method, endpoint, payload, enqueued_at
FROM mutation_queue
WHERE tag = ?
ORDER BY id ASC
`, tag)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()

	out := make([]queue.Mutation, 0)
	for rows.Next() {
		var m queue.Mutation
		var payload []byte
		var enqueuedAt int64
		if err := rows.Scan(&m.ID, &m.Tag, &m.Method, &m.Endpoint, &payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		if len(payload) > 0 {
			m.Payload = payload
		}
		m.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return out, nil
}

func (s *Store) RemoveMutation(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove mutation %d: %w", id, err)
	}
	return nil
}

func (s *Store) AppendProgress(ctx context.Context, r progress.Record) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if r.CapturedAt.IsZero() {
		r.CapturedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO progress_buffer (content_id, position_seconds, captured_at)
VALUES (?, ?, ?)
`, r.ContentID, r.PositionSeconds, r.CapturedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	return nil
}

func (s *Store) ListProgress(ctx context.Context) ([]progress.Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT content_id, position_seconds, captured_at
FROM progress_buffer
ORDER BY seq ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	out := make([]progress.Record, 0)
	for rows.Next() {
		var r progress.Record
		var capturedAt int64
		if err := rows.Scan(&r.ContentID, &r.PositionSeconds, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		r.CapturedAt = time.UnixMilli(capturedAt).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

func (s *Store) ClearProgress(ctx context.Context, n int) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM progress_buffer
WHERE seq IN (SELECT seq FROM progress_buffer ORDER BY seq ASC LIMIT ?)
`, n); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

var (
	_ queue.Store    = (*Store)(nil)
	_ progress.Store = (*Store)(nil)
)
