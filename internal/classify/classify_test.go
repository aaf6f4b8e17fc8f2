package classify

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func TestClassify(t *testing.T) {
	c := New(mustURL(t, "https://app.example.com"), DefaultRules())

	tests := []struct {
		name   string
		method string
		url    string
		want   Category
	}{
		{"post bypasses", "POST", "https://app.example.com/api/playlists", Bypass},
		{"delete bypasses even for media", "DELETE", "https://app.example.com/videos/a.mp4", Bypass},
		{"cross-origin non-media ignored", "GET", "https://fonts.other.com/font.css", Ignore},
		{"cross-origin port ignored", "GET", "https://app.example.com:8443/index", Ignore},
		{"cross-origin media intercepted", "GET", "https://cdn.other.com/movies/a.mp4", MediaContent},
		{"cross-origin media marker", "GET", "https://cdn.other.com/play?type=video", MediaContent},
		{"media extension", "GET", "https://app.example.com/videos/trailer.webm", MediaContent},
		{"hls playlist", "GET", "https://app.example.com/hls/master.m3u8", MediaContent},
		{"static extension", "GET", "https://app.example.com/app.js", StaticAsset},
		{"static prefix", "GET", "https://app.example.com/static/logo", StaticAsset},
		{"manifest", "GET", "https://app.example.com/manifest.json", StaticAsset},
		{"api prefix", "GET", "https://app.example.com/api/content/42", APIRequest},
		{"backend marker", "GET", "https://app.example.com/rest/supabase/v1/rows", APIRequest},
		{"page", "GET", "https://app.example.com/browse", PageRequest},
		{"root page", "GET", "https://app.example.com/", PageRequest},
		{"lower-case method", "get", "https://app.example.com/", PageRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.method, mustURL(t, tt.url))
			assert.Equal(t, tt.want, got, "%s %s", tt.method, tt.url)
		})
	}
}

// An API path that also looks like a media stream must be media: the media
// rule is evaluated before the static and API rules.
func TestClassifyMediaBeatsAPI(t *testing.T) {
	c := New(mustURL(t, "https://app.example.com"), DefaultRules())

	assert.Equal(t, MediaContent, c.Classify("GET", mustURL(t, "https://app.example.com/api/stream/42")))
	assert.Equal(t, MediaContent, c.Classify("GET", mustURL(t, "https://app.example.com/api/content/42/episode.mp4")))
	assert.Equal(t, MediaContent, c.Classify("GET", mustURL(t, "https://app.example.com/static/intro.mp4")))
	assert.Equal(t, APIRequest, c.Classify("GET", mustURL(t, "https://app.example.com/api/content/42")))
}

func TestCategoryIntercepted(t *testing.T) {
	assert.False(t, Bypass.Intercepted())
	assert.False(t, Ignore.Intercepted())
	for _, c := range []Category{MediaContent, StaticAsset, APIRequest, PageRequest} {
		assert.True(t, c.Intercepted(), c.String())
	}
}
