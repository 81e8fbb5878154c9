// Package main provides the callscope query service.
//
// The service serves the filter, search, anomaly and saved view API over the
// call_logs table. Without DATABASE_URL it still starts, keeps saved views in
// memory and answers 503 on call endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/callscope/callscope/internal/aliasing"
	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/api"
	"github.com/callscope/callscope/internal/api/middleware"
	"github.com/callscope/callscope/internal/cache"
	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/events"
	"github.com/callscope/callscope/internal/storage"
	"github.com/callscope/callscope/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "callscope"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version) //nolint:forbidigo

		return
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	if err := run(serverConfig, logger); err != nil {
		logger.Error("callscope stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("callscope service stopped")
}

func run(serverConfig *api.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting callscope service",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("address", serverConfig.Address()),
	)

	cacheConfig := cache.LoadConfig()

	store, err := cache.New(ctx, cacheConfig)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	defer func() { _ = store.Close() }()

	logger.Info("Cache initialized",
		slog.String("backend", cacheConfig.Backend),
		slog.Duration("ttl", cacheConfig.TTL),
	)

	deps := api.Dependencies{Logger: logger, Version: version}

	var invalidators []events.Invalidator

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Warn("DATABASE_URL not set - saved views kept in memory, call endpoints disabled")

		deps.Views = storage.NewInMemoryViewStore()
	} else {
		if config.GetEnvBool("CALLSCOPE_AUTO_MIGRATE", false) {
			if err := migrations.Up(ctx, storageConfig.DatabaseURL(), logger); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
		}

		conn, err := storage.NewConnection(storageConfig)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}

		defer func() { _ = conn.Close() }()

		logger.Info("Database connected",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
			slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
			slog.Duration("slow_query_threshold", storageConfig.SlowQueryThreshold),
		)

		calls := storage.NewCallLogStore(conn)

		fields := discovery.NewService(calls,
			discovery.WithCache(store, cacheConfig.TTL),
			discovery.WithSampleSize(config.GetEnvInt("CALLSCOPE_DISCOVERY_SAMPLE_SIZE", discovery.DefaultSampleSize)),
			discovery.WithLogger(logger),
		)

		thresholds := anomaly.NewService(calls,
			anomaly.WithCache(store, cacheConfig.TTL),
			anomaly.WithMinSamples(config.GetEnvInt("CALLSCOPE_ANOMALY_MIN_SAMPLES", anomaly.DefaultMinSamples)),
			anomaly.WithLogger(logger),
		)

		deps.Calls = calls
		deps.Views = storage.NewSavedViewStore(conn)
		deps.Fields = fields
		deps.Thresholds = thresholds
		deps.Health = conn

		invalidators = append(invalidators, fields, thresholds)
	}

	aliasConfig, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("aliases: %w", err)
	}

	aliases := aliasing.NewResolver(aliasConfig)
	if aliases.AliasCount() > 0 {
		deps.Aliases = aliases

		logger.Info("Search field aliases loaded", slog.Int("count", aliases.AliasCount()))
	}

	rateLimitConfig := middleware.LoadConfig()
	deps.RateLimiter = middleware.NewInMemoryRateLimiter(rateLimitConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", rateLimitConfig.GlobalRPS),
		slog.Int("agent_rps", rateLimitConfig.AgentRPS),
		slog.Int("anon_rps", rateLimitConfig.AnonRPS),
		slog.Int("max_agents", rateLimitConfig.MaxAgents),
	)

	consumer, err := newConsumer(logger, invalidators)
	if err != nil {
		return err
	}

	server := api.NewServer(serverConfig, deps)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return server.Run(ctx) })

	if consumer != nil {
		defer func() { _ = consumer.Close() }()

		group.Go(func() error { return consumer.Run(ctx) })
	}

	return group.Wait()
}

// newConsumer returns nil when Kafka is not configured or nothing caches
// per-agent state.
func newConsumer(logger *slog.Logger, invalidators []events.Invalidator) (*events.Consumer, error) {
	cfg := events.LoadConfig()
	if !cfg.Enabled() || len(invalidators) == 0 {
		logger.Info("Call event consumer disabled")

		return nil, nil //nolint:nilnil
	}

	consumer, err := events.NewConsumer(cfg, logger, invalidators...)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}

	return consumer, nil
}
