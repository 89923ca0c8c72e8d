package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/platform/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	v := config.NewViper()
	v.Set(config.KeyPublicBaseURL, "https://cdn.example.com")

	cfg, err := config.Load(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.StorageBackend)
	assert.Equal(t, config.CacheConfig{
		MaxEntries:      500,
		Revalidate:      60 * time.Second,
		SweepInterval:   0,
		DefaultPageSize: 12,
	}, cfg.Cache)
	assert.Equal(t, 10*time.Second, cfg.HTTP.CacheMaxAge)
	assert.Equal(t, 59*time.Second, cfg.HTTP.StaleWhileRevalidate)
	assert.Equal(t, 20.0, cfg.HTTP.RateLimitRPS)
	assert.Equal(t, 40, cfg.HTTP.RateLimitBurst)
	assert.Equal(t, 24*time.Hour, cfg.HTTP.IdempotencyRetention)
	assert.Equal(t, "memory", cfg.Invalidation.Backend)
	assert.Equal(t, "none", cfg.ObjectStore.Backend)
	assert.True(t, cfg.ObjectStore.UseSSL)
	assert.Equal(t, config.LogConfig{Level: "info", Format: "text"}, cfg.Log)
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://img.example.com")
	t.Setenv("IMAGE_CACHE_REVALIDATE", "2m")
	t.Setenv("IMAGE_CACHE_MAX_ENTRIES", "25")
	t.Setenv("STORAGE_BACKEND", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://localhost/gallery")

	cfg, err := config.Load(config.NewViper())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://img.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Cache.Revalidate)
	assert.Equal(t, 25, cfg.Cache.MaxEntries)
	assert.Equal(t, "postgres", cfg.StorageBackend)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key  string
		val  string
		want string
	}{
		{config.KeyCacheRevalidate, "sixty", "IMAGE_CACHE_REVALIDATE"},
		{config.KeyCacheMaxEntries, "lots", "IMAGE_CACHE_MAX_ENTRIES"},
		{config.KeyRateLimitRPS, "fast", "RATE_LIMIT_RPS"},
		{config.KeyMinioUseSSL, "maybe", "MINIO_USE_SSL"},
		{config.KeyIdemRetention, "forever", "IDEMPOTENCY_RETENTION"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Parallel()
			v := config.NewViper()
			v.Set(tc.key, tc.val)
			_, err := config.Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func(t *testing.T) *config.Config {
		t.Helper()
		v := config.NewViper()
		v.Set(config.KeyPublicBaseURL, "https://cdn.example.com")
		cfg, err := config.Load(v)
		require.NoError(t, err)
		return &cfg
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing base url", func(c *config.Config) { c.PublicBaseURL = "" }, "PUBLIC_BASE_URL"},
		{"postgres without dsn", func(c *config.Config) { c.StorageBackend = "postgres" }, "DATABASE_URL"},
		{"unknown storage", func(c *config.Config) { c.StorageBackend = "sqlite" }, "STORAGE_BACKEND"},
		{"zero max entries", func(c *config.Config) { c.Cache.MaxEntries = 0 }, "IMAGE_CACHE_MAX_ENTRIES"},
		{"redis without url", func(c *config.Config) { c.Invalidation.Backend = "redis" }, "REDIS_URL"},
		{"minio without bucket", func(c *config.Config) {
			c.ObjectStore.Backend = "minio"
			c.ObjectStore.Endpoint = "localhost:9000"
		}, "MINIO_BUCKET"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"burst with rps", func(c *config.Config) { c.HTTP.RateLimitBurst = 0 }, "RATE_LIMIT_BURST"},
		{"negative retention", func(c *config.Config) { c.HTTP.IdempotencyRetention = -time.Second }, "IDEMPOTENCY_RETENTION"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	cfg := base(t)
	cfg.HTTP.RateLimitRPS = 0
	cfg.HTTP.RateLimitBurst = 0
	assert.NoError(t, cfg.Validate(), "rate limiting disabled needs no burst")
}
