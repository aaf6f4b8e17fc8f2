// Package dispatch routes intercepted requests to the strategy for their category.
package dispatch

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/streamsync/cache"
	"github.com/briangreenhill/streamsync/internal/classify"
	"github.com/briangreenhill/streamsync/internal/strategy"
)

// ActiveStores reports the store set of the version currently serving
// requests. ok is false before any version has been activated.
type ActiveStores interface {
	ActiveStores() (set cache.StoreSet, ok bool)
}

// Dispatcher holds the category → strategy table
type Dispatcher struct {
	classifier *classify.Classifier
	active     ActiveStores
	strategies map[classify.Category]strategy.Strategy
	logger     zerolog.Logger
}

// New creates a dispatcher with an empty table
func New(c *classify.Classifier, active ActiveStores, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		classifier: c,
		active:     active,
		strategies: make(map[classify.Category]strategy.Strategy),
		logger:     logger,
	}
}

// NewDefault creates a dispatcher with the four standard strategies registered
func NewDefault(c *classify.Classifier, active ActiveStores, deps strategy.Deps, mediaMaxBytes int64) *Dispatcher {
	d := New(c, active, deps.Logger)
	d.Register(classify.StaticAsset, strategy.NewStatic(deps))
	d.Register(classify.APIRequest, strategy.NewAPI(deps))
	d.Register(classify.MediaContent, strategy.NewMedia(deps, mediaMaxBytes))
	d.Register(classify.PageRequest, strategy.NewPage(deps))
	return d
}

// Register binds a strategy to a category, replacing any previous binding
func (d *Dispatcher) Register(c classify.Category, s strategy.Strategy) {
	d.strategies[c] = s
}

// Strategy returns the strategy bound to c
func (d *Dispatcher) Strategy(c classify.Category) (strategy.Strategy, bool) {
	s, ok := d.strategies[c]
	return s, ok
}

// Classify exposes the classifier decision for req
func (d *Dispatcher) Classify(req *http.Request) classify.Category {
	return d.classifier.ClassifyRequest(req)
}

// Intercept runs the strategy for req. req.URL must be absolute. When
// handled is false the layer is not on the path for this request and the
// caller should send it to the network untouched.
func (d *Dispatcher) Intercept(ctx context.Context, req *http.Request) (out strategy.Outcome, handled bool) {
	category := d.classifier.ClassifyRequest(req)
	if !category.Intercepted() {
		return strategy.Outcome{}, false
	}

	// The store set is read once per request; a version activated
	// mid-request does not affect it.
	set, ok := cache.StoreSetFromContext(ctx)
	if !ok {
		set, ok = d.active.ActiveStores()
	}
	if !ok {
		return strategy.Outcome{}, false
	}

	s, ok := d.strategies[category]
	if !ok {
		d.logger.Warn().Stringer("category", category).Msg("no strategy registered")
		return strategy.Outcome{}, false
	}

	out = s.Serve(ctx, req, set)
	ev := d.logger.Debug().
		Str("strategy", s.Name()).
		Str("version", set.Version).
		Str("url", req.URL.String()).
		Bool("cached", out.Cached).
		Int("status", out.Response.StatusCode)
	if out.Err != nil {
		ev = ev.AnErr("fallback", out.Err)
	}
	ev.Msg("intercepted")
	return out, true
}
