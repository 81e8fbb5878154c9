// Package storage provides the PostgreSQL implementations behind callscope:
// the call-log row store the query cursor pages through, the predicate to SQL
// renderer, and saved view persistence.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/callscope/callscope/internal/config"
)

const (
	driverName     = "postgres"
	connectTimeout = 10 * time.Second
)

// ErrConnectionFailed is returned when the database cannot be reached.
var ErrConnectionFailed = errors.New("database connection failed")

// Connection is a pooled PostgreSQL handle shared by the stores.
type Connection struct {
	*sqlx.DB

	config *Config
	logger *slog.Logger
}

// NewConnection opens a pool with cfg and verifies it with a ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Connection{
		DB:     db,
		config: cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck pings the database.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrConnectionFailed
	}

	return c.PingContext(ctx)
}

// Close closes the pool. It is safe to call on a nil connection.
func (c *Connection) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}

	return c.DB.Close()
}

// observe logs queries slower than the configured threshold.
func (c *Connection) observe(op string, start time.Time) {
	elapsed := time.Since(start)
	if c.config == nil || elapsed < c.config.SlowQueryThreshold {
		return
	}

	c.logger.Warn("Slow query",
		slog.String("operation", op),
		slog.Duration("duration", elapsed),
		slog.Duration("threshold", c.config.SlowQueryThreshold))
}
