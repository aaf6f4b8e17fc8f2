package middleware

import (
	"context"
	"net/http"

	"github.com/briangreenhill/streamsync/cache"
)

// GenerationHeader names the cache version that served a response
const GenerationHeader = "X-Cache-Generation"

// ActiveStores reports the store set currently serving requests
type ActiveStores interface {
	ActiveStores() (cache.StoreSet, bool)
}

// CacheGeneration pins the active store set to the request context and
// stamps its version on the response. Requests that arrive before any
// version is active pass through unmarked.
func CacheGeneration(active ActiveStores) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if set, ok := active.ActiveStores(); ok {
				w.Header().Set(GenerationHeader, set.Version)
				r = r.WithContext(cache.WithStoreSet(r.Context(), set))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StoreSetFrom returns the store set pinned by CacheGeneration
func StoreSetFrom(ctx context.Context) (cache.StoreSet, bool) {
	return cache.StoreSetFromContext(ctx)
}
