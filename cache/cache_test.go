package cache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()
	fr, err := NewFileRegistry(t.TempDir())
	require.NoError(t, err)
	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"file":   fr,
	}
}

func TestRegistryOpenPutMatch(t *testing.T) {
	ctx := context.Background()
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			s, err := reg.Open(ctx, "static-v1")
			require.NoError(t, err)
			assert.Equal(t, "static-v1", s.Name())

			_, ok, err := s.Match(ctx, "GET http://example.com/app.js")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, "GET http://example.com/app.js", &Entry{Status: 200, Body: []byte("one")}))
			require.NoError(t, s.Put(ctx, "GET http://example.com/app.js", &Entry{Status: 200, Body: []byte("two")}))

			e, ok, err := s.Match(ctx, "GET http://example.com/app.js")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "two", string(e.Body))
			assert.Equal(t, int64(3), e.SizeBytes)

			// Open is idempotent and sees the same entries
			again, err := reg.Open(ctx, "static-v1")
			require.NoError(t, err)
			keys, err := again.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"GET http://example.com/app.js"}, keys)

			deleted, err := again.Delete(ctx, "GET http://example.com/app.js")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = again.Delete(ctx, "GET http://example.com/app.js")
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestRegistryListAndDeleteStores(t *testing.T) {
	ctx := context.Background()
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"static-v1", "dynamic-v1", "media-v2"} {
				_, err := reg.Open(ctx, n)
				require.NoError(t, err)
			}

			names, err := reg.ListStores(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"dynamic-v1", "media-v2", "static-v1"}, names)

			ok, err := reg.DeleteStore(ctx, "static-v1")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = reg.DeleteStore(ctx, "static-v1")
			require.NoError(t, err)
			assert.False(t, ok)

			names, err = reg.ListStores(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"dynamic-v1", "media-v2"}, names)

			_, err = reg.Open(ctx, "  ")
			assert.ErrorIs(t, err, ErrStoreNameRequired)
		})
	}
}

func TestAggregateSize(t *testing.T) {
	ctx := context.Background()
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			total, err := AggregateSize(ctx, reg)
			require.NoError(t, err)
			assert.Zero(t, total)

			a, err := reg.Open(ctx, "static-v1")
			require.NoError(t, err)
			b, err := reg.Open(ctx, "media-v1")
			require.NoError(t, err)
			_, err = reg.Open(ctx, "dynamic-v1")
			require.NoError(t, err)

			total, err = AggregateSize(ctx, reg)
			require.NoError(t, err)
			assert.Zero(t, total, "empty stores add nothing")

			require.NoError(t, a.Put(ctx, "GET http://x/a", &Entry{Body: make([]byte, 100)}))
			require.NoError(t, b.Put(ctx, "GET http://x/b", &Entry{Body: make([]byte, 250)}))

			total, err = AggregateSize(ctx, reg)
			require.NoError(t, err)
			assert.Equal(t, int64(350), total)

			n, err := DeleteAll(ctx, reg)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			names, err := reg.ListStores(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestKeyForNormalizes(t *testing.T) {
	a, _ := url.Parse("HTTP://Example.COM/videos?b=2&a=1#frag")
	b, _ := url.Parse("http://example.com/videos?a=1&b=2")
	assert.Equal(t, KeyFor("get", a), KeyFor(http.MethodGet, b))
	assert.Equal(t, "GET http://example.com/videos?a=1&b=2", KeyFor(http.MethodGet, b))

	// Paths are case-sensitive
	c, _ := url.Parse("http://example.com/Videos")
	assert.NotEqual(t, KeyFor(http.MethodGet, b), KeyFor(http.MethodGet, c))

	origin, _ := url.Parse("http://example.com/anything?q=1")
	assert.Equal(t, "GET http://example.com/", KeyForPath(origin, "/"))
}

func TestFileNameForLongKeys(t *testing.T) {
	long := "GET http://example.com/" + strings.Repeat("a", 300)
	name := fileNameFor(long)
	assert.True(t, strings.HasPrefix(name, "hash_"))
	assert.NotEqual(t, fileNameFor("GET http://x/a?b"), fileNameFor("GET http://x/a_b"))
}

func TestEntryFromResponseRoundTrip(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"text/css"}},
		Body:       io.NopCloser(strings.NewReader("body{}")),
	}
	entry, err := EntryFromResponse("GET http://x/site.css", resp)
	require.NoError(t, err)
	assert.Equal(t, int64(6), entry.SizeBytes)

	// the live response is still readable
	live, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(live))

	rebuilt := entry.Response(nil)
	assert.Equal(t, 200, rebuilt.StatusCode)
	assert.Equal(t, "1", rebuilt.Header.Get(FromCacheHeader))
	assert.Equal(t, "text/css", rebuilt.Header.Get("Content-Type"))
	cached, err := io.ReadAll(rebuilt.Body)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(cached))
}

func TestStoreSet(t *testing.T) {
	set := NewStoreSet("v2")
	assert.Equal(t, []string{"static-v2", "dynamic-v2", "media-v2"}, set.AllowList())
	assert.True(t, set.Allows("media-v2"))
	assert.False(t, set.Allows("static-v1"))
}
