// Package postgres stores the mutation queue and the progress buffer in
// Postgres, for deployments where several processes share one queue.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/briangreenhill/streamsync/internal/progress"
	"github.com/briangreenhill/streamsync/internal/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS mutation_queue (
    id BIGSERIAL PRIMARY KEY,
    tag TEXT NOT NULL,
    method TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    payload BYTEA,
    enqueued_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mutation_queue_tag ON mutation_queue (tag, id);
CREATE TABLE IF NOT EXISTS progress_buffer (
    seq BIGSERIAL PRIMARY KEY,
    content_id TEXT NOT NULL,
    position_seconds DOUBLE PRECISION NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL
);
`

// Store implements queue.Store and progress.Store on a pgx pool
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and creates the tables if needed
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller owns the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
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
	var payload []byte
	if len(m.Payload) > 0 {
		payload = m.Payload
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO mutation_queue (tag, method, endpoint, payload, enqueued_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, m.Tag, m.Method, m.Endpoint, payload, pgtype.Timestamptz{Time: m.EnqueuedAt.UTC(), Valid: true}).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append mutation: %w", err)
	}
	return id, nil
}

func (s *Store) ListMutations(ctx context.Context, tag string) ([]queue.Mutation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, tag, method, endpoint, payload, enqueued_at
FROM mutation_queue
WHERE tag = $1
ORDER BY id ASC
`, tag)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (queue.Mutation, error) {
		var m queue.Mutation
		var payload []byte
		var at pgtype.Timestamptz
		if err := row.Scan(&m.ID, &m.Tag, &m.Method, &m.Endpoint, &payload, &at); err != nil {
			return m, err
		}
		if len(payload) > 0 {
			m.Payload = payload
		}
		m.EnqueuedAt = at.Time.UTC()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan mutations: %w", err)
	}
	return out, nil
}

func (s *Store) RemoveMutation(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM mutation_queue WHERE id = $1`, id); err != nil {
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
	_, err := s.pool.Exec(ctx, `
INSERT INTO progress_buffer (content_id, position_seconds, captured_at)
VALUES ($1, $2, $3)
`, r.ContentID, r.PositionSeconds, pgtype.Timestamptz{Time: r.CapturedAt.UTC(), Valid: true})
	if err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	return nil
}

func (s *Store) ListProgress(ctx context.Context) ([]progress.Record, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT content_id, position_seconds, captured_at
FROM progress_buffer
ORDER BY seq ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.Record, error) {
		var r progress.Record
		var at pgtype.Timestamptz
		err := row.Scan(&r.ContentID, &r.PositionSeconds, &at)
		r.CapturedAt = at.Time.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan progress: %w", err)
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
	if _, err := s.pool.Exec(ctx, `
DELETE FROM progress_buffer
WHERE seq IN (SELECT seq FROM progress_buffer ORDER BY seq ASC LIMIT $1)
`, n); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

var (
	_ queue.Store    = (*Store)(nil)
	_ progress.Store = (*Store)(nil)
)
