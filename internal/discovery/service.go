package discovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/callscope/callscope/internal/cache"
	"github.com/callscope/callscope/internal/filter"
)

const (
	// DefaultSampleSize is the number of most recent call logs sampled per agent.
	DefaultSampleSize = 500
	defaultCacheTTL   = 10 * time.Minute
	cacheKeyPrefix    = "fields:"
)

// Sampler returns the most recent call logs of an agent.
type Sampler interface {
	SampleRecords(ctx context.Context, agentID string, limit int) ([]Record, error)
}

// Service discovers and caches field catalogs per agent.
//
// Catalogs are advisory. Sampling failures produce an empty catalog rather
// than an error, and are not cached so the next request retries.
type Service struct {
	sampler    Sampler
	registry   *filter.Registry
	cache      cache.Cache
	ttl        time.Duration
	sampleSize int
	logger     *slog.Logger
	group      singleflight.Group
	gens       cache.Generations
}

// Option configures a Service.
type Option func(*Service)

// WithCache stores catalogs in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSampleSize overrides DefaultSampleSize.
func WithSampleSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sampleSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry overrides the default column registry.
func WithRegistry(r *filter.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// NewService creates a discovery service over sampler. Without WithCache an
// in-memory cache is used.
func NewService(sampler Sampler, opts ...Option) *Service {
	s := &Service{
		sampler:    sampler,
		registry:   filter.DefaultRegistry(),
		ttl:        defaultCacheTTL,
		sampleSize: DefaultSampleSize,
		logger:     slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cache == nil {
		s.cache = cache.NewMemoryCache()
	}

	return s
}

// Fields returns the catalog for agentID, from cache when available.
func (s *Service) Fields(ctx context.Context, agentID string) Catalog {
	var cached Catalog

	err := cache.GetJSON(ctx, s.cache, cacheKey(agentID), &cached)
	if err == nil {
		return cached
	}

	if !errors.Is(err, cache.ErrKeyNotFound) {
		s.logger.Warn("Field catalog cache read failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()))
	}

	return s.compute(ctx, agentID)
}

// Refresh drops the cached catalog and recomputes it. It never joins a
// computation that started before the call.
func (s *Service) Refresh(ctx context.Context, agentID string) Catalog {
	s.Invalidate(ctx, agentID)

	return s.compute(ctx, agentID)
}

// Invalidate drops the cached catalog for agentID. Computations already in
// flight still answer their callers but no longer write to the cache.
func (s *Service) Invalidate(ctx context.Context, agentID string) {
	s.gens.Bump(agentID)

	if err := s.cache.Delete(ctx, cacheKey(agentID)); err != nil {
		s.logger.Warn("Field catalog cache delete failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) compute(ctx context.Context, agentID string) Catalog {
	gen := s.gens.Current(agentID)

	v, _, _ := s.group.Do(cache.FlightKey(agentID, gen), func() (any, error) {
		start := time.Now()

		records, err := s.sampler.SampleRecords(ctx, agentID, s.sampleSize)
		if err != nil {
			s.logger.Warn("Field discovery sampling failed",
				slog.String("agent_id", agentID),
				slog.String("error", err.Error()))

			return Catalog{}, nil
		}

		catalog := Infer(s.registry, records)

		kept, err := s.gens.StoreJSON(ctx, s.cache, agentID, gen, cacheKey(agentID), catalog, s.ttl)
		if err != nil {
			s.logger.Warn("Field catalog cache write failed",
				slog.String("agent_id", agentID),
				slog.String("error", err.Error()))
		} else if !kept {
			s.logger.Debug("Field catalog invalidated while computing, not cached",
				slog.String("agent_id", agentID))
		}

		s.logger.Debug("Discovered fields",
			slog.String("agent_id", agentID),
			slog.Int("records", len(records)),
			slog.Int("fields", len(catalog)),
			slog.Duration("duration", time.Since(start)))

		return catalog, nil
	})

	catalog, _ := v.(Catalog)

	return catalog
}

func cacheKey(agentID string) string {
	return cacheKeyPrefix + agentID
}
