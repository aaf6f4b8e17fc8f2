package strategy

import (
	"context"
	"net/http"

	"github.com/briangreenhill/streamsync/cache"
)

// DefaultMediaMaxBytes is the admission cap for the media store (50 MiB)
const DefaultMediaMaxBytes int64 = 50 << 20

// Media is cache-first with admission control on declared size
type Media struct {
	Deps
	// MaxBytes is the exclusive upper bound on Content-Length for admission
	MaxBytes int64
}

func NewMedia(d Deps, maxBytes int64) *Media {
	if maxBytes <= 0 {
		maxBytes = DefaultMediaMaxBytes
	}
	return &Media{Deps: d, MaxBytes: maxBytes}
}

func (m *Media) Name() string { return "media" }

func (m *Media) Serve(ctx context.Context, req *http.Request, set cache.StoreSet) Outcome {
	key := cache.KeyForRequest(req)
	if entry, ok := m.match(ctx, set.Media, key); ok {
		return fromCache(req, entry)
	}

	resp, err := m.fetch(ctx, req)
	if err != nil {
		return Outcome{
			Response: offline(req, "text/plain; charset=utf-8", "Media not available offline"),
			Err:      ErrMediaOffline,
		}
	}
	if m.admit(resp) {
		m.put(ctx, set.Media, key, resp)
	} else {
		m.Logger.Debug().Str("key", key).Int("status", resp.StatusCode).Int64("content_length", resp.ContentLength).Msg("media not admitted")
	}
	return Outcome{Response: resp}
}

// admit accepts complete 200 responses whose declared length is known and
// under the cap. Partial (206) responses are never stored.
func (m *Media) admit(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return resp.ContentLength >= 0 && resp.ContentLength < m.MaxBytes
}
