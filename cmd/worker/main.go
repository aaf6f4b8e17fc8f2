package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/streamsync/internal/app"
	"github.com/briangreenhill/streamsync/internal/config"
	"github.com/briangreenhill/streamsync/internal/jobs"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if !cfg.HasRedis() {
		logger.Fatal().Msg("REDIS_ADDR is required for the worker")
	}
	logger = logger.Level(cfg.Level())

	// The worker shares durable storage with the api; drains replay through
	// the same origin client
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build app")
	}
	defer a.Close()

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Sync.RedisAddr}, asynq.Config{
		Concurrency: cfg.Sync.WorkerConcurrency,
		Queues: map[string]int{
			jobs.QueueSync: 10,
			"default":      5,
		},
		Logger: asynqLogger{logger},
	})

	logger.Info().Msg("worker running")
	if err := srv.Run(jobs.NewServeMux(a.Engine, logger)); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}

// asynqLogger adapts zerolog to asynq.Logger
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
