// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/streamsync/internal/app"
	"github.com/briangreenhill/streamsync/internal/config"
	"github.com/briangreenhill/streamsync/internal/http/routes"
	"github.com/briangreenhill/streamsync/internal/lifecycle"
)

func main() {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = logger.Level(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build app")
	}
	defer a.Close()

	// Install and claim the configured version before serving
	res, err := a.Lifecycle.Deploy(ctx, cfg.Cache.Version)
	switch {
	case errors.Is(err, lifecycle.ErrCleanupAborted):
		logger.Warn().Err(err).Msg("activated without cleaning old stores")
	case err != nil:
		logger.Fatal().Err(err).Msg("deploy cache version")
	}
	logger.Info().Str("version", cfg.Cache.Version).Stringer("install", res.Status).Msg("cache version active")

	serving, _ := cfg.ServingOrigin()
	opts := routes.ServerOptions{
		Engine:   a.Engine,
		Queue:    a.Queue,
		Progress: a.Progress,
		Origin:   a.Origin,
		Serving:  serving,
		Active:   a.Lifecycle,
	}
	if cfg.HasRedis() {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Sync.RedisAddr})
		defer client.Close()
		opts.Jobs = client
	}
	s := routes.New(opts)

	h := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", d).
				Msg("request")
		})(
			hlog.RequestIDHandler("req_id", "X-Request-Id")(s.Router),
		),
	)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("port", cfg.Port).Str("origin", cfg.OriginURL).Msg("starting proxy")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
