// Package config loads process configuration from the environment and
// command-line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys. Each maps to the upper-cased environment variable of the same name.
const (
	KeyPort           = "port"
	KeyStorageBackend = "storage_backend"
	KeyDatabaseURL    = "database_url"
	KeyPublicBaseURL  = "public_base_url"

	KeyCacheMaxEntries    = "image_cache_max_entries"
	KeyCacheRevalidate    = "image_cache_revalidate"
	KeyCacheSweepInterval = "image_cache_sweep_interval"
	KeyDefaultPageSize    = "image_default_page_size"

	KeyHTTPCacheMaxAge = "http_cache_max_age"
	KeyHTTPCacheSWR    = "http_cache_swr"
	KeyRateLimitRPS    = "rate_limit_rps"
	KeyRateLimitBurst  = "rate_limit_burst"
	KeyAdminToken      = "admin_token"
	KeyIdemRetention   = "idempotency_retention"

	KeyInvalidationBackend = "invalidation_backend"
	KeyRedisURL            = "redis_url"
	KeyRedisChannel        = "redis_channel"

	KeyObjectStoreBackend = "object_store_backend"
	KeyMinioEndpoint      = "minio_endpoint"
	KeyMinioAccessKey     = "minio_access_key"
	KeyMinioSecretKey     = "minio_secret_key"
	KeyMinioBucket        = "minio_bucket"
	KeyMinioUseSSL        = "minio_use_ssl"

	KeyLogLevel  = "log_level"
	KeyLogFormat = "log_format"
)

type Config struct {
	Port           string
	StorageBackend string
	DatabaseURL    string
	// PublicBaseURL prefixes every image storage key in API responses.
	PublicBaseURL string

	Cache        CacheConfig
	HTTP         HTTPConfig
	Invalidation InvalidationConfig
	ObjectStore  ObjectStoreConfig
	Log          LogConfig
}

type CacheConfig struct {
	MaxEntries      int
	Revalidate      time.Duration
	SweepInterval   time.Duration // 0 disables the background sweep
	DefaultPageSize int
}

type HTTPConfig struct {
	CacheMaxAge          time.Duration
	StaleWhileRevalidate time.Duration
	RateLimitRPS         float64 // 0 disables rate limiting
	RateLimitBurst       int
	// AdminToken guards the staff routes. Empty disables them.
	AdminToken           string
	// IdempotencyRetention is how long Idempotency-Key responses are replayable. 0 disables replay.
	IdempotencyRetention time.Duration
}

type InvalidationConfig struct {
	Backend  string
	RedisURL string
	Channel  string
}

type ObjectStoreConfig struct {
	Backend   string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type LogConfig struct {
	Level  string
	Format string
}

// NewViper returns a viper instance with every default registered and
// environment lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyStorageBackend, "memory")
	v.SetDefault(KeyCacheMaxEntries, "500")
	v.SetDefault(KeyCacheRevalidate, "60s")
	v.SetDefault(KeyCacheSweepInterval, "0s")
	v.SetDefault(KeyDefaultPageSize, "12")
	v.SetDefault(KeyHTTPCacheMaxAge, "10s")
	v.SetDefault(KeyHTTPCacheSWR, "59s")
	v.SetDefault(KeyRateLimitRPS, "20")
	v.SetDefault(KeyRateLimitBurst, "40")
	v.SetDefault(KeyIdemRetention, "24h")
	v.SetDefault(KeyInvalidationBackend, "memory")
	v.SetDefault(KeyObjectStoreBackend, "none")
	v.SetDefault(KeyMinioUseSSL, "true")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	return v
}

// Load reads every setting from v. It rejects values that do not parse but
// does not check cross-field requirements; see Validate.
func Load(v *viper.Viper) (Config, error) {
	var (
		cfg Config
		err error
	)
	cfg.Port = strings.TrimSpace(v.GetString(KeyPort))
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(v.GetString(KeyStorageBackend)))
	cfg.DatabaseURL = v.GetString(KeyDatabaseURL)
	cfg.PublicBaseURL = strings.TrimSpace(v.GetString(KeyPublicBaseURL))

	if cfg.Cache.MaxEntries, err = intValue(v, KeyCacheMaxEntries); err != nil {
		return Config{}, err
	}
	if cfg.Cache.Revalidate, err = durationValue(v, KeyCacheRevalidate); err != nil {
		return Config{}, err
	}
	if cfg.Cache.SweepInterval, err = durationValue(v, KeyCacheSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.Cache.DefaultPageSize, err = intValue(v, KeyDefaultPageSize); err != nil {
		return Config{}, err
	}

	if cfg.HTTP.CacheMaxAge, err = durationValue(v, KeyHTTPCacheMaxAge); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.StaleWhileRevalidate, err = durationValue(v, KeyHTTPCacheSWR); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.RateLimitRPS, err = floatValue(v, KeyRateLimitRPS); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.RateLimitBurst, err = intValue(v, KeyRateLimitBurst); err != nil {
		return Config{}, err
	}
	cfg.HTTP.AdminToken = v.GetString(KeyAdminToken)
	if cfg.HTTP.IdempotencyRetention, err = durationValue(v, KeyIdemRetention); err != nil {
		return Config{}, err
	}

	cfg.Invalidation.Backend = strings.ToLower(strings.TrimSpace(v.GetString(KeyInvalidationBackend)))
	cfg.Invalidation.RedisURL = v.GetString(KeyRedisURL)
	cfg.Invalidation.Channel = v.GetString(KeyRedisChannel)

	cfg.ObjectStore.Backend = strings.ToLower(strings.TrimSpace(v.GetString(KeyObjectStoreBackend)))
	cfg.ObjectStore.Endpoint = v.GetString(KeyMinioEndpoint)
	cfg.ObjectStore.AccessKey = v.GetString(KeyMinioAccessKey)
	cfg.ObjectStore.SecretKey = v.GetString(KeyMinioSecretKey)
	cfg.ObjectStore.Bucket = v.GetString(KeyMinioBucket)
	if cfg.ObjectStore.UseSSL, err = boolValue(v, KeyMinioUseSSL); err != nil {
		return Config{}, err
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel)))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat)))
	return cfg, nil
}

// Validate checks the settings the API server needs to start.
func (c Config) Validate() error {
	if c.PublicBaseURL == "" {
		return fmt.Errorf("missing required env var: %s", envName(KeyPublicBaseURL))
	}
	switch c.StorageBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s is required when %s=postgres", envName(KeyDatabaseURL), envName(KeyStorageBackend))
		}
	default:
		return fmt.Errorf("%s must be memory or postgres, got %q", envName(KeyStorageBackend), c.StorageBackend)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("%s must be positive", envName(KeyCacheMaxEntries))
	}
	if c.Cache.Revalidate <= 0 {
		return fmt.Errorf("%s must be positive", envName(KeyCacheRevalidate))
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("%s must not be negative", envName(KeyCacheSweepInterval))
	}
	if c.Cache.DefaultPageSize <= 0 {
		return fmt.Errorf("%s must be positive", envName(KeyDefaultPageSize))
	}
	if c.HTTP.CacheMaxAge < 0 || c.HTTP.StaleWhileRevalidate < 0 {
		return fmt.Errorf("%s and %s must not be negative", envName(KeyHTTPCacheMaxAge), envName(KeyHTTPCacheSWR))
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("%s must not be negative", envName(KeyRateLimitRPS))
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst <= 0 {
		return fmt.Errorf("%s must be positive when rate limiting is enabled", envName(KeyRateLimitBurst))
	}
	if c.HTTP.IdempotencyRetention < 0 {
		return fmt.Errorf("%s must not be negative", envName(KeyIdemRetention))
	}
	switch c.Invalidation.Backend {
	case "memory":
	case "redis":
		if c.Invalidation.RedisURL == "" {
			return fmt.Errorf("%s is required when %s=redis", envName(KeyRedisURL), envName(KeyInvalidationBackend))
		}
	default:
		return fmt.Errorf("%s must be memory or redis, got %q", envName(KeyInvalidationBackend), c.Invalidation.Backend)
	}
	switch c.ObjectStore.Backend {
	case "none":
	case "minio":
		if c.ObjectStore.Endpoint == "" || c.ObjectStore.Bucket == "" {
			return fmt.Errorf("%s and %s are required when %s=minio",
				envName(KeyMinioEndpoint), envName(KeyMinioBucket), envName(KeyObjectStoreBackend))
		}
	default:
		return fmt.Errorf("%s must be none or minio, got %q", envName(KeyObjectStoreBackend), c.ObjectStore.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%s must be text or json, got %q", envName(KeyLogFormat), c.Log.Format)
	}
	return nil
}

func envName(key string) string { return strings.ToUpper(key) }

func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 30s): %w", envName(key), err)
	}
	return d, nil
}

func intValue(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", envName(key), err)
	}
	return n, nil
}

func floatValue(v *viper.Viper, key string) (float64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", envName(key), err)
	}
	return f, nil
}

func boolValue(v *viper.Viper, key string) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false: %w", envName(key), err)
	}
	return b, nil
}
