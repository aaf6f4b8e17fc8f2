// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Storage drivers for the mutation queue and progress buffer
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Port         string `env:"PORT"          envDefault:"8080"`
	OriginURL    string `env:"ORIGIN_URL"`
	PublicOrigin string `env:"PUBLIC_ORIGIN"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`

	Cache    CacheConfig
	Storage  StorageConfig
	Sync     SyncConfig
	Classify ClassifyConfig
}

// CacheConfig controls the store registry and the lifecycle manager
type CacheConfig struct {
	Version            string `env:"CACHE_VERSION"        envDefault:"v1"`
	Dir                string `env:"CACHE_DIR"`
	ManifestPath       string `env:"MANIFEST_PATH"`
	MediaMaxBytes      int64  `env:"MEDIA_MAX_BYTES"      envDefault:"52428800"`
	RequireFullInstall bool   `env:"REQUIRE_FULL_INSTALL" envDefault:"false"`
}

// StorageConfig selects the durable store for queued mutations and progress
type StorageConfig struct {
	Driver      string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH"    envDefault:"streamsync.db"`
	DatabaseURL string `env:"DATABASE_URL"`
}

// SyncConfig controls reconnect handling
type SyncConfig struct {
	RedisAddr         string `env:"REDIS_ADDR"`
	ProgressEndpoint  string `env:"PROGRESS_ENDPOINT"  envDefault:"/api/progress"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"4"`
}

// ClassifyConfig overrides the classifier's path rules
type ClassifyConfig struct {
	APIPrefix     string `env:"API_PREFIX"     envDefault:"/api/"`
	StaticPrefix  string `env:"STATIC_PREFIX"  envDefault:"/static/"`
	BackendMarker string `env:"BACKEND_MARKER" envDefault:"supabase"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	return cfg, nil
}

// HasRedis returns true if drains should go through the job queue
func (c *Config) HasRedis() bool {
	return c.Sync.RedisAddr != ""
}

// HasPublicOrigin returns true if clients address a host other than the upstream
func (c *Config) HasPublicOrigin() bool {
	return c.PublicOrigin != ""
}

// ServingOrigin is the origin clients address: PUBLIC_ORIGIN if set,
// otherwise ORIGIN_URL
func (c *Config) ServingOrigin() (*url.URL, error) {
	raw := c.OriginURL
	if c.HasPublicOrigin() {
		raw = c.PublicOrigin
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse serving origin: %w", err)
	}
	return u, nil
}

// Level returns the zerolog level, defaulting to info
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.OriginURL == "" {
		return fmt.Errorf("ORIGIN_URL is required")
	}
	for name, raw := range map[string]string{"ORIGIN_URL": c.OriginURL, "PUBLIC_ORIGIN": c.PublicOrigin} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if strings.TrimSpace(c.Cache.Version) == "" {
		return fmt.Errorf("CACHE_VERSION must not be empty")
	}
	if c.Cache.MediaMaxBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_BYTES must be positive, got %d", c.Cache.MediaMaxBytes)
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	return nil
}
