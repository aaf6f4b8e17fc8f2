// Package strategy implements the per-category caching algorithms.
package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/streamsync/cache"
	"github.com/briangreenhill/streamsync/internal/origin"
)

// Error kinds carried in Outcome.Err. None of them are returned to the
// requesting client as errors; they describe the synthetic response.
var (
	ErrAssetUnavailable = errors.New("static asset unavailable offline")
	ErrContentOffline   = errors.New("content not available offline")
	ErrMediaOffline     = errors.New("media not available offline")
	ErrPageOffline      = errors.New("page not available offline")
)

// Outcome is what every strategy hands back to the dispatcher
type Outcome struct {
	Response *http.Response
	Cached   bool
	Err      error
}

// Strategy serves one intercepted GET request
type Strategy interface {
	// Name identifies the strategy in logs
	Name() string

	// Serve answers req using the stores in set. It never returns a nil Response.
	Serve(ctx context.Context, req *http.Request, set cache.StoreSet) Outcome
}

// Deps are shared by every strategy
type Deps struct {
	Registry cache.Registry
	Fetcher  origin.Fetcher
	Logger   zerolog.Logger
}

// match looks key up in the named store. Store errors are logged and treated
// as a miss.
func (d Deps) match(ctx context.Context, storeName, key string) (*cache.Entry, bool) {
	store, err := d.Registry.Open(ctx, storeName)
	if err != nil {
		d.Logger.Warn().Err(err).Str("store", storeName).Msg("open store failed")
		return nil, false
	}
	entry, ok, err := store.Match(ctx, key)
	if err != nil {
		d.Logger.Warn().Err(err).Str("store", storeName).Str("key", key).Msg("cache match failed")
		return nil, false
	}
	return entry, ok
}

// put clones resp into the named store. resp stays readable for the caller.
// Failures are logged and do not affect the response.
func (d Deps) put(ctx context.Context, storeName, key string, resp *http.Response) {
	entry, err := cache.EntryFromResponse(key, resp)
	if err != nil {
		d.Logger.Warn().Err(err).Str("store", storeName).Str("key", key).Msg("cache write failed")
		return
	}
	store, err := d.Registry.Open(ctx, storeName)
	if err == nil {
		err = store.Put(ctx, key, entry)
	}
	if err != nil {
		d.Logger.Warn().Err(err).Str("store", storeName).Str("key", key).Msg("cache write failed")
		return
	}
	d.Logger.Debug().Str("store", storeName).Str("key", key).Int64("size", entry.SizeBytes).Msg("cached")
}

func (d Deps) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := d.Fetcher.Fetch(ctx, req)
	if err != nil {
		d.Logger.Debug().Err(err).Str("url", req.URL.String()).Msg("network request failed")
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	return resp, nil
}

func fromCache(req *http.Request, entry *cache.Entry) Outcome {
	return Outcome{Response: entry.Response(req), Cached: true}
}

// offline builds the uniform 503 fallback response
func offline(req *http.Request, contentType, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Cache-Control", "no-store")
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

const offlineJSON = `{"error":"Content not available offline","offline":true}`

const offlinePage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>This page is not available offline. It will load again once you are back online.</p>
</body>
</html>
`
