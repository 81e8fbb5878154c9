// Package cache provides the key/value cache backing the per-agent field
// catalog and anomaly thresholds.
//
// Entries are advisory: every cached value can be recomputed from the call-log
// store, so callers treat backend failures as cache misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/callscope/callscope/internal/config"
)

// Backend names accepted by CALLSCOPE_CACHE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	defaultTTL       = 10 * time.Minute
	defaultKeyPrefix = "callscope:"
)

// Cache errors.
var (
	ErrKeyNotFound      = errors.New("cache key not found")
	ErrCacheUnavailable = errors.New("cache backend unavailable")
	ErrUnknownBackend   = errors.New("unknown cache backend")
	ErrInvalidTTL       = errors.New("cache TTL must be positive")
)

// Cache stores opaque values with a time-to-live.
type Cache interface {
	// Get returns ErrKeyNotFound for missing or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config holds cache settings.
type Config struct {
	Backend       string
	TTL           time.Duration
	KeyPrefix     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LoadConfig reads cache settings from the environment.
//
// Environment variables:
//   - CALLSCOPE_CACHE_BACKEND: memory or redis (default: memory)
//   - CALLSCOPE_CACHE_TTL: entry lifetime (default: 10m)
//   - CALLSCOPE_CACHE_PREFIX: key prefix (default: callscope:)
//   - CALLSCOPE_REDIS_ADDR: redis address (default: localhost:6379)
//   - CALLSCOPE_REDIS_PASSWORD: redis password (default: empty)
//   - CALLSCOPE_REDIS_DB: redis database number (default: 0)
func LoadConfig() Config {
	return Config{
		Backend:       strings.ToLower(config.GetEnvStr("CALLSCOPE_CACHE_BACKEND", BackendMemory)),
		TTL:           config.GetEnvDuration("CALLSCOPE_CACHE_TTL", defaultTTL),
		KeyPrefix:     config.GetEnvStr("CALLSCOPE_CACHE_PREFIX", defaultKeyPrefix),
		RedisAddr:     config.GetEnvStr("CALLSCOPE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnvStr("CALLSCOPE_REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("CALLSCOPE_REDIS_DB", 0),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return ErrInvalidTTL
	}

	switch c.Backend {
	case BackendMemory, BackendRedis:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config) (Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Backend == BackendRedis {
		return NewRedisCache(ctx, cfg)
	}

	return NewMemoryCache(), nil
}

// GetJSON reads key and decodes it into dst.
func GetJSON(ctx context.Context, c Cache, key string, dst any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dst)
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, ttl)
}
