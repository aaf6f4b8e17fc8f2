package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/streamsync/internal/origin"
)

type received struct {
	method, path, body string
}

func newOrigin(t *testing.T, status int) (*origin.Client, func() []received) {
	t.Helper()
	var mu sync.Mutex
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{r.Method, r.URL.Path, string(b)})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	c, err := origin.New(srv.URL)
	require.NoError(t, err)
	return c, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func TestDrainRemovesReplayedMutations(t *testing.T) {
	ctx := context.Background()
	c, got := newOrigin(t, http.StatusCreated)
	q := New(NewMemoryStore(), c, zerolog.Nop())

	_, err := q.Enqueue(ctx, TagPlaylist, Mutation{Endpoint: "/api/playlists", Payload: json.RawMessage(`{"name":"a"}`)})
	require.NoError(t, err)

	report, err := q.Drain(ctx, TagPlaylist)
	require.NoError(t, err)
	assert.Equal(t, DrainReport{Tag: TagPlaylist, Attempted: 1, Replayed: 1}, report)

	pending, err := q.Pending(ctx, TagPlaylist)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.Len(t, got(), 1)
	assert.Equal(t, received{http.MethodPost, "/api/playlists", `{"name":"a"}`}, got()[0])
}

func TestDrainKeepsFailedMutations(t *testing.T) {
	ctx := context.Background()
	c, _ := newOrigin(t, http.StatusBadGateway)
	q := New(NewMemoryStore(), c, zerolog.Nop())

	_, err := q.Enqueue(ctx, TagPlaylist, Mutation{Method: "put", Endpoint: "/api/playlists/1"})
	require.NoError(t, err)

	report, err := q.Drain(ctx, TagPlaylist)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retained)

	pending, err := q.Pending(ctx, TagPlaylist)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, http.MethodPut, pending[0].Method)
}

func TestDrainUnreachableOriginKeepsEverything(t *testing.T) {
	ctx := context.Background()
	c, err := origin.New("http://127.0.0.1:1")
	require.NoError(t, err)
	q := New(NewMemoryStore(), c, zerolog.Nop())

	for range 3 {
		_, err := q.Enqueue(ctx, TagProgress, Mutation{Endpoint: "/api/progress"})
		require.NoError(t, err)
	}
	report, err := q.Drain(ctx, TagProgress)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Retained)
}

func TestDrainPreservesOrderAndTags(t *testing.T) {
	ctx := context.Background()
	c, got := newOrigin(t, http.StatusOK)
	q := New(NewMemoryStore(), c, zerolog.Nop())

	for _, ep := range []string{"/api/a", "/api/b", "/api/c"} {
		_, err := q.Enqueue(ctx, TagPlaylist, Mutation{Endpoint: ep})
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, TagProgress, Mutation{Endpoint: "/api/other"})
	require.NoError(t, err)

	_, err = q.Drain(ctx, TagPlaylist)
	require.NoError(t, err)

	var paths []string
	for _, r := range got() {
		paths = append(paths, r.path)
	}
	assert.Equal(t, []string{"/api/a", "/api/b", "/api/c"}, paths)

	other, err := q.Pending(ctx, TagProgress)
	require.NoError(t, err)
	assert.Len(t, other, 1, "draining one tag leaves other tags alone")
}

func TestEnqueueValidation(t *testing.T) {
	q := New(NewMemoryStore(), nil, zerolog.Nop())
	_, err := q.Enqueue(context.Background(), " ", Mutation{Endpoint: "/x"})
	assert.ErrorIs(t, err, ErrTagRequired)
	_, err = q.Enqueue(context.Background(), TagPlaylist, Mutation{})
	assert.ErrorIs(t, err, ErrEndpointRequired)
	_, err = q.Drain(context.Background(), "")
	assert.ErrorIs(t, err, ErrTagRequired)
}

// gateReplayer blocks every send until release is closed
type gateReplayer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateReplayer) Send(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	<-g.release
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestConcurrentDrainsSendOnce(t *testing.T) {
	ctx := context.Background()
	r := &gateReplayer{started: make(chan struct{}), release: make(chan struct{})}
	q := New(NewMemoryStore(), r, zerolog.Nop())
	_, err := q.Enqueue(ctx, TagPlaylist, Mutation{Endpoint: "/api/playlists"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	reports := make([]DrainReport, 5)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], _ = q.Drain(ctx, TagPlaylist)
		}()
	}
	<-r.started
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load(), "a mutation is replayed at most once across overlapping drains")
	pending, err := q.Pending(ctx, TagPlaylist)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// ctxReplayer fails sends whose context is already done
type ctxReplayer struct{ calls atomic.Int32 }

func (r *ctxReplayer) Send(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	r.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestDrainSurvivesCallerCancellation(t *testing.T) {
	r := &ctxReplayer{}
	q := New(NewMemoryStore(), r, zerolog.Nop())
	_, err := q.Enqueue(context.Background(), TagPlaylist, Mutation{Endpoint: "/api/playlists"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := q.Drain(ctx, TagPlaylist)
	require.NoError(t, err)
	assert.Equal(t, DrainReport{Tag: TagPlaylist, Attempted: 1, Replayed: 1}, report)
	assert.Equal(t, int32(1), r.calls.Load())
}
