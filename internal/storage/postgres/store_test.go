package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/streamsync/internal/progress"
	"github.com/briangreenhill/streamsync/internal/queue"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres store tests")
	}
	ctx := context.Background()
	s, err := Open(ctx, dbURL)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE mutation_queue, progress_buffer`)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestMutationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.AppendMutation(ctx, queue.Mutation{
		Tag: queue.TagPlaylist, Method: "POST", Endpoint: "/api/playlists",
		Payload: json.RawMessage(`{"name":"a"}`),
	})
	require.NoError(t, err)
	_, err = s.AppendMutation(ctx, queue.Mutation{Tag: queue.TagPlaylist, Method: "DELETE", Endpoint: "/api/playlists/1"})
	require.NoError(t, err)

	items, err := s.ListMutations(ctx, queue.TagPlaylist)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, id, items[0].ID)
	assert.JSONEq(t, `{"name":"a"}`, string(items[0].Payload))
	assert.Equal(t, "DELETE", items[1].Method)

	require.NoError(t, s.RemoveMutation(ctx, id))
	items, err = s.ListMutations(ctx, queue.TagPlaylist)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestProgressRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AppendProgress(ctx, progress.Record{ContentID: "ep-1", PositionSeconds: 3.5}))
	records, err := s.ListProgress(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3.5, records[0].PositionSeconds)

	require.NoError(t, s.AppendProgress(ctx, progress.Record{ContentID: "ep-2", PositionSeconds: 9}))
	require.NoError(t, s.ClearProgress(ctx, 1))
	records, err = s.ListProgress(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ep-2", records[0].ContentID)

	require.NoError(t, s.ClearProgress(ctx, 1))
	records, err = s.ListProgress(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUnconfiguredStore(t *testing.T) {
	var s *Store
	_, err := s.ListProgress(context.Background())
	assert.Error(t, err)
	_, err = Open(context.Background(), " ")
	assert.Error(t, err)
}
