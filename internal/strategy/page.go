package strategy

import (
	"context"
	"net/http"

	"github.com/briangreenhill/streamsync/cache"
	"github.com/briangreenhill/streamsync/internal/origin"
)

// Page is network-first with fallbacks to the cached page, then the cached
// site root, then a static offline page. The root is looked up in the
// dynamic store first and then in the static store, where install seeds it.
type Page struct {
	Deps
}

func NewPage(d Deps) *Page { return &Page{Deps: d} }

func (p *Page) Name() string { return "page" }

func (p *Page) Serve(ctx context.Context, req *http.Request, set cache.StoreSet) Outcome {
	key := cache.KeyForRequest(req)

	resp, err := p.fetch(ctx, req)
	if err == nil {
		if origin.OK(resp.StatusCode) {
			p.put(ctx, set.Dynamic, key, resp)
		}
		return Outcome{Response: resp}
	}

	if entry, ok := p.match(ctx, set.Dynamic, key); ok {
		return fromCache(req, entry)
	}
	rootKey := cache.KeyForPath(req.URL, "/")
	if rootKey != key {
		if entry, ok := p.match(ctx, set.Dynamic, rootKey); ok {
			return fromCache(req, entry)
		}
	}
	if entry, ok := p.match(ctx, set.Static, rootKey); ok {
		return fromCache(req, entry)
	}
	return Outcome{
		Response: offline(req, "text/html; charset=utf-8", offlinePage),
		Err:      ErrPageOffline,
	}
}
