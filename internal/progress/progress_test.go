package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/streamsync/internal/origin"
)

func TestFlushAllSendsAndClears(t *testing.T) {
	ctx := context.Background()
	var got []Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/progress", r.URL.Path)
		var rec Record
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		got = append(got, rec)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c, err := origin.New(srv.URL)
	require.NoError(t, err)

	store := NewMemoryStore()
	b := NewBuffer(store, c, "/api/progress", zerolog.Nop())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, b.Append(ctx, Record{ContentID: "ep-1", PositionSeconds: 42.5, CapturedAt: at}))
	require.NoError(t, b.Append(ctx, Record{ContentID: "ep-2", PositionSeconds: 7}))

	report, err := b.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushReport{Sent: 2, Cleared: 2}, report)
	require.Len(t, got, 2)
	assert.Equal(t, "ep-1", got[0].ContentID)
	assert.Equal(t, 42.5, got[0].PositionSeconds)
	assert.True(t, at.Equal(got[0].CapturedAt))

	left, err := store.ListProgress(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFlushAllDropsFailedRecords(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	c, err := origin.New(srv.URL)
	require.NoError(t, err)

	store := NewMemoryStore()
	b := NewBuffer(store, c, "/api/progress", zerolog.Nop())
	require.NoError(t, b.Append(ctx, Record{ContentID: "lost"}))
	require.NoError(t, b.Append(ctx, Record{ContentID: "sent"}))

	report, err := b.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Sent)

	// the failed record is not retried: the buffer is emptied regardless
	left, err := store.ListProgress(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)

	report, err = b.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushReport{}, report)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAppendRequiresContentID(t *testing.T) {
	b := NewBuffer(NewMemoryStore(), nil, "/api/progress", zerolog.Nop())
	assert.ErrorIs(t, b.Append(context.Background(), Record{ContentID: "  "}), ErrContentIDRequired)
}

// appendingSender buffers one more record while the first send is in flight
type appendingSender struct {
	buf  *Buffer
	sent []string
}

func (s *appendingSender) Send(ctx context.Context, _, _ string, body []byte) (*http.Response, error) {
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	s.sent = append(s.sent, rec.ContentID)
	if len(s.sent) == 1 {
		if err := s.buf.Append(ctx, Record{ContentID: "late"}); err != nil {
			return nil, err
		}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestFlushAllKeepsRecordsAppendedMidFlush(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sender := &appendingSender{}
	b := NewBuffer(store, sender, "/api/progress", zerolog.Nop())
	sender.buf = b
	require.NoError(t, b.Append(ctx, Record{ContentID: "early"}))

	report, err := b.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushReport{Sent: 1, Cleared: 1}, report)

	left, err := store.ListProgress(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "late", left[0].ContentID)

	report, err = b.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushReport{Sent: 1, Cleared: 1}, report)
	assert.Equal(t, []string{"early", "late"}, sender.sent)
}

func TestMemoryStoreClearsOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.AppendProgress(ctx, Record{ContentID: id}))
	}

	require.NoError(t, store.ClearProgress(ctx, 2))
	left, err := store.ListProgress(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "c", left[0].ContentID)

	require.NoError(t, store.ClearProgress(ctx, 10))
	left, err = store.ListProgress(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}
