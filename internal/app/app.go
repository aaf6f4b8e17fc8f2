// Package app wires configuration into the running components shared by the
// api and worker binaries.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/streamsync/cache"
	"github.com/briangreenhill/streamsync/internal/classify"
	"github.com/briangreenhill/streamsync/internal/config"
	"github.com/briangreenhill/streamsync/internal/control"
	"github.com/briangreenhill/streamsync/internal/dispatch"
	"github.com/briangreenhill/streamsync/internal/engine"
	"github.com/briangreenhill/streamsync/internal/lifecycle"
	"github.com/briangreenhill/streamsync/internal/origin"
	"github.com/briangreenhill/streamsync/internal/progress"
	"github.com/briangreenhill/streamsync/internal/queue"
	"github.com/briangreenhill/streamsync/internal/storage/postgres"
	"github.com/briangreenhill/streamsync/internal/storage/sqlite"
	"github.com/briangreenhill/streamsync/internal/strategy"
)

// Durable is the queue and progress storage
type Durable interface {
	queue.Store
	progress.Store
}

// App holds every component built from one Config
type App struct {
	Config    *config.Config
	Origin    *origin.Client
	Registry  cache.Registry
	Lifecycle *lifecycle.Manager
	Queue     *queue.Queue
	Progress  *progress.Buffer
	Engine    *engine.Engine

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenDurable opens the store selected by STORAGE_DRIVER
func OpenDurable(ctx context.Context, cfg *config.Config) (Durable, io.Closer, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, closerFunc(func() error { s.Close(); return nil }), nil
	default:
		s, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

// OpenRegistry returns a file registry when CACHE_DIR is set, else memory
func OpenRegistry(cfg *config.Config) (cache.Registry, error) {
	if cfg.Cache.Dir == "" {
		return cache.NewMemoryRegistry(), nil
	}
	reg, err := cache.NewFileRegistry(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Rules applies the configured overrides to the default classifier rules
func Rules(cfg *config.Config) classify.Rules {
	r := classify.DefaultRules()
	if cfg.Classify.APIPrefix != "" {
		r.APIPrefix = cfg.Classify.APIPrefix
	}
	if cfg.Classify.StaticPrefix != "" {
		r.StaticPrefix = cfg.Classify.StaticPrefix
	}
	if cfg.Classify.BackendMarker != "" {
		r.BackendMarker = cfg.Classify.BackendMarker
	}
	return r
}

// New builds the component graph. It does not install a version.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	serving, err := cfg.ServingOrigin()
	if err != nil {
		return nil, err
	}
	o, err := origin.New(cfg.OriginURL, origin.WithPublicOrigin(serving))
	if err != nil {
		return nil, fmt.Errorf("origin client: %w", err)
	}

	manifest := lifecycle.DefaultManifest()
	if cfg.Cache.ManifestPath != "" {
		if manifest, err = lifecycle.LoadManifest(cfg.Cache.ManifestPath); err != nil {
			return nil, err
		}
	}

	reg, err := OpenRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("cache registry: %w", err)
	}
	durable, closer, err := OpenDurable(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("durable storage: %w", err)
	}

	lc := lifecycle.NewManager(reg, o, manifest, logger.With().Str("component", "lifecycle").Logger())
	lc.RequireFullInstall = cfg.Cache.RequireFullInstall

	deps := strategy.Deps{Registry: reg, Fetcher: o, Logger: logger.With().Str("component", "strategy").Logger()}
	q := queue.New(durable, o, logger.With().Str("component", "queue").Logger())
	buf := progress.NewBuffer(durable, o, cfg.Sync.ProgressEndpoint, logger.With().Str("component", "progress").Logger())

	eng := engine.New(engine.Options{
		Lifecycle:  lc,
		Dispatcher: dispatch.NewDefault(classify.New(serving, Rules(cfg)), lc, deps, cfg.Cache.MediaMaxBytes),
		Queue:      q,
		Progress:   buf,
		Control:    control.NewHandler(reg, lc, o, logger.With().Str("component", "control").Logger()),
		Logger:     logger,
	})

	return &App{
		Config:    cfg,
		Origin:    o,
		Registry:  reg,
		Lifecycle: lc,
		Queue:     q,
		Progress:  buf,
		Engine:    eng,
		closers:   []io.Closer{closer},
	}, nil
}

// Close releases storage handles
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
