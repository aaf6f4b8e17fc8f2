// Package queue holds mutations issued while offline and replays them when
// the client reconnects.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/streamsync/internal/origin"
)

// Queue tags driven by the host application
const (
	TagPlaylist = "sync-playlist"
	TagProgress = "sync-progress"
)

var (
	ErrTagRequired      = errors.New("queue tag is required")
	ErrEndpointRequired = errors.New("mutation endpoint is required")
)

// Mutation is one pending write operation
type Mutation struct {
	ID         int64           `json:"id"`
	Tag        string          `json:"tag"`
	Method     string          `json:"method"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Store persists mutations. IDs are assigned by the store and increase
// monotonically.
type Store interface {
	AppendMutation(ctx context.Context, m Mutation) (int64, error)
	// ListMutations returns the tag's mutations in ID order
	ListMutations(ctx context.Context, tag string) ([]Mutation, error)
	RemoveMutation(ctx context.Context, id int64) error
}

// Replayer sends a mutation to the origin
type Replayer interface {
	Send(ctx context.Context, method, target string, body []byte) (*http.Response, error)
}

// DrainReport summarises one drain pass
type DrainReport struct {
	Tag       string `json:"tag"`
	Attempted int    `json:"attempted"`
	Replayed  int    `json:"replayed"`
	Retained  int    `json:"retained"`
}

// Queue is the durable mutation queue
type Queue struct {
	store    Store
	replayer Replayer
	logger   zerolog.Logger
	drains   singleflight.Group
}

func New(store Store, replayer Replayer, logger zerolog.Logger) *Queue {
	return &Queue{store: store, replayer: replayer, logger: logger}
}

// Enqueue appends m under tag and returns its ID. Method defaults to POST.
func (q *Queue) Enqueue(ctx context.Context, tag string, m Mutation) (int64, error) {
	m.Tag = strings.TrimSpace(tag)
	if m.Tag == "" {
		return 0, ErrTagRequired
	}
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	if m.Endpoint == "" {
		return 0, ErrEndpointRequired
	}
	m.Method = strings.ToUpper(strings.TrimSpace(m.Method))
	if m.Method == "" {
		m.Method = http.MethodPost
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}

	id, err := q.store.AppendMutation(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("enqueue mutation: %w", err)
	}
	q.logger.Debug().Str("tag", m.Tag).Int64("id", id).Str("method", m.Method).Str("endpoint", m.Endpoint).Msg("mutation queued")
	return id, nil
}

// Pending lists the mutations still waiting under tag
func (q *Queue) Pending(ctx context.Context, tag string) ([]Mutation, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, ErrTagRequired
	}
	return q.store.ListMutations(ctx, tag)
}

// Drain replays every pending mutation for tag in ID order. Successful items
// are removed; failed items stay for the next drain and the pass continues.
// Callers that ask for the same tag while a drain is running share its result.
func (q *Queue) Drain(ctx context.Context, tag string) (DrainReport, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return DrainReport{}, ErrTagRequired
	}

	// The shared pass outlives the caller that started it.
	passCtx := context.WithoutCancel(ctx)
	v, err, shared := q.drains.Do(tag, func() (any, error) {
		return q.drain(passCtx, tag)
	})
	if shared {
		q.logger.Debug().Str("tag", tag).Msg("joined drain already in flight")
	}
	if err != nil {
		return DrainReport{Tag: tag}, err
	}
	return v.(DrainReport), nil
}

func (q *Queue) drain(ctx context.Context, tag string) (DrainReport, error) {
	report := DrainReport{Tag: tag}
	items, err := q.store.ListMutations(ctx, tag)
	if err != nil {
		return report, fmt.Errorf("list mutations: %w", err)
	}

	for _, m := range items {
		report.Attempted++
		if err := q.replay(ctx, m); err != nil {
			report.Retained++
			q.logger.Debug().Err(err).Str("tag", tag).Int64("id", m.ID).Msg("replay failed; kept for next drain")
			continue
		}
		if err := q.store.RemoveMutation(ctx, m.ID); err != nil {
			// Replayed but still stored: it will be sent again next time
			report.Retained++
			q.logger.Warn().Err(err).Str("tag", tag).Int64("id", m.ID).Msg("remove replayed mutation failed")
			continue
		}
		report.Replayed++
	}

	q.logger.Info().Str("tag", tag).Int("attempted", report.Attempted).Int("replayed", report.Replayed).Int("retained", report.Retained).Msg("drain finished")
	return report, nil
}

func (q *Queue) replay(ctx context.Context, m Mutation) error {
	resp, err := q.replayer.Send(ctx, m.Method, m.Endpoint, m.Payload)
	if err != nil {
		return err
	}
	defer origin.Drain(resp)
	if !origin.OK(resp.StatusCode) {
		return fmt.Errorf("replay %s %s: status %d", m.Method, m.Endpoint, resp.StatusCode)
	}
	return nil
}
