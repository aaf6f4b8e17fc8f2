// Package progress buffers playback position updates and flushes them in one
// best-effort pass.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/streamsync/internal/origin"
)

var ErrContentIDRequired = errors.New("content id is required")

// Record is one playback position sample. Records have no identity.
type Record struct {
	ContentID       string    `json:"contentId"`
	PositionSeconds float64   `json:"positionSeconds"`
	CapturedAt      time.Time `json:"capturedAt"`
}

// Store persists the buffer. ListProgress returns records oldest first and
// ClearProgress removes the oldest n of them.
type Store interface {
	AppendProgress(ctx context.Context, r Record) error
	ListProgress(ctx context.Context) ([]Record, error)
	ClearProgress(ctx context.Context, n int) error
}

// Sender posts a record to the origin
type Sender interface {
	Send(ctx context.Context, method, target string, body []byte) (*http.Response, error)
}

// FlushReport summarises one flush pass
type FlushReport struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Cleared int `json:"cleared"`
}

// Buffer is the progress batch buffer
type Buffer struct {
	flushMu  sync.Mutex
	store    Store
	sender   Sender
	endpoint string
	logger   zerolog.Logger
}

func NewBuffer(store Store, sender Sender, endpoint string, logger zerolog.Logger) *Buffer {
	return &Buffer{store: store, sender: sender, endpoint: endpoint, logger: logger}
}

// Append adds r to the buffer
func (b *Buffer) Append(ctx context.Context, r Record) error {
	r.ContentID = strings.TrimSpace(r.ContentID)
	if r.ContentID == "" {
		return ErrContentIDRequired
	}
	if r.CapturedAt.IsZero() {
		r.CapturedAt = time.Now().UTC()
	}
	if err := b.store.AppendProgress(ctx, r); err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	return nil
}

// FlushAll POSTs every buffered record and then clears the records it
// listed, including those whose send failed. Those records are lost.
// Records appended while a flush is running stay for the next flush.
func (b *Buffer) FlushAll(ctx context.Context) (FlushReport, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	var report FlushReport
	records, err := b.store.ListProgress(ctx)
	if err != nil {
		return report, fmt.Errorf("list progress: %w", err)
	}
	if len(records) == 0 {
		return report, nil
	}

	for _, r := range records {
		if err := b.send(ctx, r); err != nil {
			report.Failed++
			b.logger.Warn().Err(err).Str("content_id", r.ContentID).Float64("position", r.PositionSeconds).Msg("progress send failed")
			continue
		}
		report.Sent++
	}

	if err := b.store.ClearProgress(ctx, len(records)); err != nil {
		return report, fmt.Errorf("clear progress: %w", err)
	}
	report.Cleared = len(records)
	b.logger.Info().Int("sent", report.Sent).Int("failed", report.Failed).Msg("progress flushed")
	return report, nil
}

func (b *Buffer) send(ctx context.Context, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	resp, err := b.sender.Send(ctx, http.MethodPost, b.endpoint, body)
	if err != nil {
		return err
	}
	defer origin.Drain(resp)
	if !origin.OK(resp.StatusCode) {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
