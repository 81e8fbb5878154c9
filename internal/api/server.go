// Package api provides the HTTP API of the callscope service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/callscope/callscope/internal/api/middleware"
	"github.com/callscope/callscope/internal/compiler"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/search"
)

const defaultVersion = "dev"

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
	config     *ServerConfig
	startTime  time.Time
	deps       Dependencies
	registry   *filter.Registry
	parser     *search.Parser
	compiler   *compiler.Compiler
}

// NewServer builds the server and its middleware stack.
//
// Middleware runs in this order:
//  1. CorrelationID
//  2. Recovery
//  3. AgentScope, which records the agent of /api/v1/agents/{agentID}/... paths
//  4. RateLimit (skipped when deps.RateLimiter is nil)
//  5. RequestLogger
//  6. CORS
func NewServer(cfg *ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	}

	registry := deps.Registry
	if registry == nil {
		registry = filter.DefaultRegistry()
	}

	if deps.Version == "" {
		deps.Version = defaultVersion
	}

	server := &Server{
		logger:   logger,
		config:   cfg,
		deps:     deps,
		registry: registry,
		parser:   newParser(registry, deps.Aliases),
		compiler: compiler.New(compiler.WithRegistry(registry), compiler.WithLogger(logger)),
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if deps.RateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	if deps.Calls == nil {
		logger.Warn("Call log store not configured - call endpoints will answer 503")
	}

	server.handler = middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAgentScope(),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           server.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return server
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting callscope API server",
			slog.String("address", s.config.Address()),
			slog.String("version", s.deps.Version),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal")

		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.deps.RateLimiter != nil {
		if limiter, ok := s.deps.RateLimiter.(io.Closer); ok {
			if err := limiter.Close(); err != nil {
				s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
			}
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}

func newParser(registry *filter.Registry, aliases search.FieldResolver) *search.Parser {
	parser := search.NewParser(registry)
	if aliases == nil {
		return parser
	}

	return parser.WithAliases(aliases)
}
