package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/callscope/callscope/internal/config"
)

const (
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 5
	defaultConnMaxLifetime    = 30 * time.Minute
	defaultConnMaxIdleTime    = 10 * time.Minute
	defaultSlowQueryThreshold = 500 * time.Millisecond
)

// ErrDatabaseURLEmpty is returned when DATABASE_URL is not set.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds PostgreSQL connection settings.
type Config struct {
	databaseURL        string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	SlowQueryThreshold time.Duration // queries slower than this are logged at warn
}

// LoadConfig reads PostgreSQL settings from the environment.
//
// Environment variables:
//   - DATABASE_URL: connection string (required)
//   - DATABASE_MAX_OPEN_CONNS: pool size (default: 25)
//   - DATABASE_MAX_IDLE_CONNS: idle pool size (default: 5)
//   - DATABASE_CONN_MAX_LIFETIME: connection lifetime (default: 30m)
//   - DATABASE_CONN_MAX_IDLE_TIME: idle connection lifetime (default: 10m)
//   - DATABASE_SLOW_QUERY_THRESHOLD: slow query log threshold (default: 500ms)
func LoadConfig() *Config {
	return &Config{
		databaseURL:        config.GetEnvStr("DATABASE_URL", ""),
		MaxOpenConns:       config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:       config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime:    config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime:    config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		SlowQueryThreshold: config.GetEnvDuration("DATABASE_SLOW_QUERY_THRESHOLD", defaultSlowQueryThreshold),
	}
}

// NewConfig builds a config for databaseURL with default pool settings.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:        databaseURL,
		MaxOpenConns:       defaultMaxOpenConns,
		MaxIdleConns:       defaultMaxIdleConns,
		ConnMaxLifetime:    defaultConnMaxLifetime,
		ConnMaxIdleTime:    defaultConnMaxIdleTime,
		SlowQueryThreshold: defaultSlowQueryThreshold,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// DatabaseURL returns the unmasked connection string. Never log it.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

// MaskDatabaseURL returns the connection string with its password replaced by ***.
func (c *Config) MaskDatabaseURL() string {
	scheme, rest, ok := strings.Cut(c.databaseURL, "://")
	if !ok {
		return c.databaseURL
	}

	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return c.databaseURL
	}

	user, password, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword || password == "" {
		return c.databaseURL
	}

	return scheme + "://" + user + ":***" + rest[at:]
}
