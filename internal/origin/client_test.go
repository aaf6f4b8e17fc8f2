package origin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRewritesPublicOrigin(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotMethod string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	public, _ := url.Parse("https://app.example.com")
	c, err := New(upstream.URL+"/base", WithPublicOrigin(public))
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), "/api/items?id=1")
	require.NoError(t, err)
	Drain(resp)
	assert.Equal(t, "/base/api/items", gotPath)
	assert.Equal(t, "id=1", gotQuery)

	resp, err = c.Send(context.Background(), http.MethodPut, "https://app.example.com/api/playlists/7", []byte(`{"a":1}`))
	require.NoError(t, err)
	Drain(resp)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/base/api/playlists/7", gotPath)
	assert.Equal(t, `{"a":1}`, gotBody)
}

func TestClientLeavesForeignHostsAlone(t *testing.T) {
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("foreign"))
	}))
	defer foreign.Close()

	c, err := New("http://127.0.0.1:1")
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), foreign.URL+"/clip.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "foreign", string(b))
}

func TestNewValidatesUpstream(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
	_, err = New("/relative")
	assert.Error(t, err)
}

func TestOK(t *testing.T) {
	assert.True(t, OK(200))
	assert.True(t, OK(204))
	assert.False(t, OK(304))
	assert.False(t, OK(503))
}
