package strategy

import (
	"context"
	"net/http"

	"github.com/briangreenhill/streamsync/cache"
	"github.com/briangreenhill/streamsync/internal/origin"
)

// API is network-first with a fallback to the dynamic store
type API struct {
	Deps
}

func NewAPI(d Deps) *API { return &API{Deps: d} }

func (a *API) Name() string { return "api" }

// Serve stores every 2xx response under the request key, replacing the prior
// entry. Two requests for one key racing here both write; the one whose
// response completes last wins.
func (a *API) Serve(ctx context.Context, req *http.Request, set cache.StoreSet) Outcome {
	key := cache.KeyForRequest(req)

	resp, err := a.fetch(ctx, req)
	if err == nil {
		if origin.OK(resp.StatusCode) {
			a.put(ctx, set.Dynamic, key, resp)
		}
		return Outcome{Response: resp}
	}

	if entry, ok := a.match(ctx, set.Dynamic, key); ok {
		return fromCache(req, entry)
	}
	return Outcome{
		Response: offline(req, "application/json", offlineJSON),
		Err:      ErrContentOffline,
	}
}
