package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORIGIN_URL", "http://localhost:3000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "v1", cfg.Cache.Version)
	assert.Equal(t, int64(50<<20), cfg.Cache.MediaMaxBytes)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/api/progress", cfg.Sync.ProgressEndpoint)
	assert.Equal(t, "/api/", cfg.Classify.APIPrefix)
	assert.False(t, cfg.HasRedis())
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORIGIN_URL", "http://upstream:3000")
	t.Setenv("PUBLIC_ORIGIN", "https://app.example.com")
	t.Setenv("CACHE_VERSION", "v7")
	t.Setenv("MEDIA_MAX_BYTES", "1024")
	t.Setenv("STORAGE_DRIVER", " Postgres ")
	t.Setenv("DATABASE_URL", "postgres://localhost/streamsync")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, int64(1024), cfg.Cache.MediaMaxBytes)
	assert.True(t, cfg.HasRedis())
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())

	u, err := cfg.ServingOrigin()
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", u.Host)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("MEDIA_MAX_BYTES", "lots")
	_, err := Load()
	assert.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			OriginURL: "http://localhost:3000",
			Cache:     CacheConfig{Version: "v1", MediaMaxBytes: 1},
			Storage:   StorageConfig{Driver: DriverSQLite, SQLitePath: "x.db"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing origin", func(c *Config) { c.OriginURL = "" }},
		{"relative origin", func(c *Config) { c.OriginURL = "/app" }},
		{"relative public origin", func(c *Config) { c.PublicOrigin = "app.example.com" }},
		{"empty version", func(c *Config) { c.Cache.Version = " " }},
		{"zero media cap", func(c *Config) { c.Cache.MediaMaxBytes = 0 }},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, base().Validate())
}
