package strategy

import (
	"context"
	"net/http"

	"github.com/briangreenhill/streamsync/cache"
	"github.com/briangreenhill/streamsync/internal/origin"
)

// Static is cache-first against the static store
type Static struct {
	Deps
}

func NewStatic(d Deps) *Static { return &Static{Deps: d} }

func (s *Static) Name() string { return "static" }

func (s *Static) Serve(ctx context.Context, req *http.Request, set cache.StoreSet) Outcome {
	key := cache.KeyForRequest(req)
	if entry, ok := s.match(ctx, set.Static, key); ok {
		return fromCache(req, entry)
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		return Outcome{
			Response: offline(req, "text/plain; charset=utf-8", "Asset not available offline"),
			Err:      ErrAssetUnavailable,
		}
	}
	if origin.OK(resp.StatusCode) {
		s.put(ctx, set.Static, key, resp)
	}
	return Outcome{Response: resp}
}
