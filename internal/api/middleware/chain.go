package middleware

import (
	"log/slog"
	"net/http"
	"slices"
)

// Option wraps a handler with one middleware layer.
type Option func(http.Handler) http.Handler

// Apply wraps handler with options. The first option is the outermost layer,
// so it sees the request first and the response last.
func Apply(handler http.Handler, options ...Option) http.Handler {
	for _, opt := range slices.Backward(options) {
		if opt != nil {
			handler = opt(handler)
		}
	}

	return handler
}

func WithCorrelationID() Option { return CorrelationID() }

func WithRecovery(logger *slog.Logger) Option { return Recovery(logger) }

func WithAgentScope() Option { return AgentScope() }

// WithRateLimit returns nil, a no-op for Apply, when limiter is nil.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return nil
	}

	return RateLimit(limiter, logger)
}

func WithRequestLogger(logger *slog.Logger) Option { return RequestLogger(logger) }

func WithCORS(config CORSConfig) Option { return CORS(config) }
