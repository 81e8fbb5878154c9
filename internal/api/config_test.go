package api

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadServerConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := LoadServerConfig()

		assert.Equal(t, defaultPort, cfg.Port)
		assert.Equal(t, defaultHost, cfg.Host)
		assert.Equal(t, defaultTimeout, cfg.ReadTimeout)
		assert.Equal(t, defaultMaxPageSize, cfg.MaxPageSize)
		assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
		assert.Equal(t, []string{"Content-Type", "X-Correlation-ID"}, cfg.CORSAllowedHeaders)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("CALLSCOPE_SERVER_PORT", "9090")
		t.Setenv("CALLSCOPE_SERVER_READ_TIMEOUT", "5s")
		t.Setenv("CALLSCOPE_SERVER_LOG_LEVEL", "debug")
		t.Setenv("CALLSCOPE_MAX_PAGE_SIZE", "500")
		t.Setenv("CALLSCOPE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

		cfg := LoadServerConfig()

		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
		assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
		assert.Equal(t, 500, cfg.MaxPageSize)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
		assert.Equal(t, "0.0.0.0:9090", cfg.Address())
	})
}

func TestServerConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		want   error
	}{
		{"port zero", func(c *ServerConfig) { c.Port = 0 }, ErrInvalidPort},
		{"port too high", func(c *ServerConfig) { c.Port = 70000 }, ErrInvalidPort},
		{"empty host", func(c *ServerConfig) { c.Host = "" }, ErrEmptyHost},
		{"read timeout", func(c *ServerConfig) { c.ReadTimeout = 0 }, ErrInvalidReadTimeout},
		{"write timeout", func(c *ServerConfig) { c.WriteTimeout = -time.Second }, ErrInvalidWriteTimeout},
		{"shutdown timeout", func(c *ServerConfig) { c.ShutdownTimeout = 0 }, ErrInvalidShutdownTimeout},
		{"request size", func(c *ServerConfig) { c.MaxRequestSize = 0 }, ErrInvalidMaxRequestSize},
		{"page size", func(c *ServerConfig) { c.MaxPageSize = 0 }, ErrInvalidMaxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}
