package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/callscope/callscope/internal/config"
)

// Environment variables read by LoadServerConfig.
const (
	envPort            = "CALLSCOPE_SERVER_PORT"
	envHost            = "CALLSCOPE_SERVER_HOST"
	envReadTimeout     = "CALLSCOPE_SERVER_READ_TIMEOUT"
	envWriteTimeout    = "CALLSCOPE_SERVER_WRITE_TIMEOUT"
	envShutdownTimeout = "CALLSCOPE_SERVER_TIMEOUT"
	envLogLevel        = "CALLSCOPE_SERVER_LOG_LEVEL"
	envMaxRequestSize  = "CALLSCOPE_MAX_REQUEST_SIZE"
	envMaxPageSize     = "CALLSCOPE_MAX_PAGE_SIZE"
	envCORSOrigins     = "CALLSCOPE_CORS_ALLOWED_ORIGINS"
	envCORSMethods     = "CALLSCOPE_CORS_ALLOWED_METHODS"
	envCORSHeaders     = "CALLSCOPE_CORS_ALLOWED_HEADERS"
	envCORSMaxAge      = "CALLSCOPE_CORS_MAX_AGE"
)

const (
	defaultPort           = 8080
	defaultHost           = "0.0.0.0"
	defaultTimeout        = 30 * time.Second
	defaultLogLevel       = slog.LevelInfo
	defaultMaxRequestSize = int64(1 << 20)
	defaultMaxPageSize    = 200
	defaultCORSOrigins    = "*"
	defaultCORSMethods    = "GET,POST,PUT,DELETE,OPTIONS"
	defaultCORSHeaders    = "Content-Type,X-Correlation-ID"
	defaultCORSMaxAge     = 86400
	maxPort               = 65535
)

// Server configuration errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidMaxRequestSize  = errors.New("max request size must be positive")
	ErrInvalidMaxPageSize     = errors.New("max page size must be positive")
)

type (
	// ServerConfig holds the HTTP listener settings and request limits of the
	// query API. Stores and services are passed to NewServer as Dependencies.
	ServerConfig struct {
		Port            int
		Host            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		LogLevel        slog.Level
		// MaxRequestSize caps request bodies such as compile and query payloads.
		MaxRequestSize int64
		// MaxPageSize is the largest limit a calls query may ask for.
		MaxPageSize        int
		CORSAllowedOrigins []string
		CORSAllowedMethods []string
		CORSAllowedHeaders []string
		CORSMaxAge         int
	}

	// CORSConfig implements middleware.CORSConfig.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig reads CALLSCOPE_SERVER_*, CALLSCOPE_MAX_* and
// CALLSCOPE_CORS_* from the environment. The dashboard runs on another
// origin, so CORS defaults to any origin.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:               config.GetEnvInt(envPort, defaultPort),
		Host:               config.GetEnvStr(envHost, defaultHost),
		ReadTimeout:        config.GetEnvDuration(envReadTimeout, defaultTimeout),
		WriteTimeout:       config.GetEnvDuration(envWriteTimeout, defaultTimeout),
		ShutdownTimeout:    config.GetEnvDuration(envShutdownTimeout, defaultTimeout),
		LogLevel:           config.GetEnvLogLevel(envLogLevel, defaultLogLevel),
		MaxRequestSize:     config.GetEnvInt64(envMaxRequestSize, defaultMaxRequestSize),
		MaxPageSize:        config.GetEnvInt(envMaxPageSize, defaultMaxPageSize),
		CORSAllowedOrigins: envList(envCORSOrigins, defaultCORSOrigins),
		CORSAllowedMethods: envList(envCORSMethods, defaultCORSMethods),
		CORSAllowedHeaders: envList(envCORSHeaders, defaultCORSHeaders),
		CORSMaxAge:         config.GetEnvInt(envCORSMaxAge, defaultCORSMaxAge),
	}
}

func envList(key, fallback string) []string {
	return config.ParseCommaSeparatedList(config.GetEnvStr(key, fallback))
}

// Address is the listen address, host:port.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *ServerConfig) ToCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

func (c *CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }
func (c *CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }
func (c *CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }
func (c *CORSConfig) GetMaxAge() int              { return c.MaxAge }

// Validate reports the first invalid setting.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	durations := []struct {
		value time.Duration
		err   error
	}{
		{c.ReadTimeout, ErrInvalidReadTimeout},
		{c.WriteTimeout, ErrInvalidWriteTimeout},
		{c.ShutdownTimeout, ErrInvalidShutdownTimeout},
	}

	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: got %v", d.err, d.value)
		}
	}

	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxRequestSize, c.MaxRequestSize)
	}

	if c.MaxPageSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxPageSize, c.MaxPageSize)
	}

	return nil
}
