// Package control implements the command channel the host application uses
// to steer the cache layer.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/streamsync/cache"
	"github.com/briangreenhill/streamsync/internal/origin"
)

// Type names a control message
type Type string

const (
	ForceActivateNow Type = "ForceActivateNow"
	CacheResource    Type = "CacheResource"
	ClearAllStores   Type = "ClearAllStores"
	GetAggregateSize Type = "GetAggregateSize"

	// CacheSize is the reply to GetAggregateSize
	CacheSize Type = "CacheSize"
)

var (
	ErrUnknownCommand   = errors.New("unknown control command")
	ErrURLRequired      = errors.New("CacheResource requires a url")
	ErrNoActiveVersion  = errors.New("no active cache version")
	ErrResourceNotFound = errors.New("resource could not be fetched")
)

// Message is a command from the host application
type Message struct {
	Type Type   `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Reply is only produced for GetAggregateSize
type Reply struct {
	Type Type  `json:"type"`
	Size int64 `json:"size"`
}

// Decode reads one message from r
func Decode(r io.Reader) (Message, error) {
	var m Message
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Message{}, fmt.Errorf("decode control message: %w", err)
	}
	return m, nil
}

// Lifecycle is what the channel needs from the lifecycle manager
type Lifecycle interface {
	SkipWaiting(ctx context.Context) error
	ActiveStores() (cache.StoreSet, bool)
}

// Origin fetches resources for CacheResource
type Origin interface {
	origin.Fetcher
	NewRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error)
}

type Handler struct {
	registry  cache.Registry
	lifecycle Lifecycle
	origin    Origin
	logger    zerolog.Logger
}

func NewHandler(registry cache.Registry, lc Lifecycle, o Origin, logger zerolog.Logger) *Handler {
	return &Handler{registry: registry, lifecycle: lc, origin: o, logger: logger}
}

// Handle executes msg. The reply is nil for every command except
// GetAggregateSize.
func (h *Handler) Handle(ctx context.Context, msg Message) (*Reply, error) {
	log := h.logger.With().Str("command", string(msg.Type)).Logger()

	switch msg.Type {
	case ForceActivateNow:
		if err := h.lifecycle.SkipWaiting(ctx); err != nil {
			return nil, fmt.Errorf("force activate: %w", err)
		}
		log.Info().Msg("forced activation")
		return nil, nil

	case CacheResource:
		return nil, h.cacheResource(ctx, msg.URL)

	case ClearAllStores:
		n, err := cache.DeleteAll(ctx, h.registry)
		if err != nil {
			return nil, fmt.Errorf("clear stores: %w", err)
		}
		log.Info().Int("deleted", n).Msg("cleared all stores")
		return nil, nil

	case GetAggregateSize:
		size, err := cache.AggregateSize(ctx, h.registry)
		if err != nil {
			return nil, fmt.Errorf("aggregate size: %w", err)
		}
		return &Reply{Type: CacheSize, Size: size}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Type)
	}
}

// cacheResource fetches target and stores it in the active media store,
// bypassing the media size cap
func (h *Handler) cacheResource(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return ErrURLRequired
	}
	set, ok := h.lifecycle.ActiveStores()
	if !ok {
		return ErrNoActiveVersion
	}

	req, err := h.origin.NewRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := h.origin.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", target, err)
	}
	if !origin.OK(resp.StatusCode) {
		origin.Drain(resp)
		return fmt.Errorf("%w: %s returned %d", ErrResourceNotFound, target, resp.StatusCode)
	}

	key := cache.KeyForRequest(req)
	entry, err := cache.EntryFromResponse(key, resp)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}
	store, err := h.registry.Open(ctx, set.Media)
	if err != nil {
		return fmt.Errorf("open %s: %w", set.Media, err)
	}
	if err := store.Put(ctx, key, entry); err != nil {
		return fmt.Errorf("store %s: %w", target, err)
	}
	h.logger.Info().Str("key", key).Int64("bytes", entry.SizeBytes).Str("store", set.Media).Msg("resource cached on request")
	return nil
}

// Result answers one Request
type Result struct {
	Reply *Reply
	Err   error
}

// Request pairs a message with the channel its result is sent on. ReplyTo
// may be nil for fire-and-forget commands; it should be buffered.
type Request struct {
	Message Message
	ReplyTo chan<- Result
}

// Serve handles requests one at a time until ctx is done or reqs is closed
func (h *Handler) Serve(ctx context.Context, reqs <-chan Request) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-reqs:
			if !ok {
				return nil
			}
			reply, err := h.Handle(ctx, req.Message)
			if err != nil {
				h.logger.Warn().Err(err).Str("command", string(req.Message.Type)).Msg("control command failed")
			}
			if req.ReplyTo == nil {
				continue
			}
			select {
			case req.ReplyTo <- Result{Reply: reply, Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
