package anomaly

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/callscope/callscope/internal/cache"
)

const (
	defaultCacheTTL = 10 * time.Minute
	cacheKeyPrefix  = "thresholds:"
)

// Source reports the size and p95 of a column over every call of an agent,
// ignoring any user filters.
type Source interface {
	SignalStats(ctx context.Context, agentID, column string) (Stats, error)
}

// Service computes and caches thresholds per agent.
type Service struct {
	source     Source
	cache      cache.Cache
	ttl        time.Duration
	minSamples int
	logger     *slog.Logger
	group      singleflight.Group
	gens       cache.Generations
}

// Option configures a Service.
type Option func(*Service)

// WithCache stores thresholds in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMinSamples overrides DefaultMinSamples.
func WithMinSamples(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minSamples = n
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

// NewService creates a threshold service over source.
func NewService(source Source, opts ...Option) *Service {
	s := &Service{
		source:     source,
		ttl:        defaultCacheTTL,
		minSamples: DefaultMinSamples,
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

// Thresholds returns the thresholds for agentID, from cache when available.
// Source failures yield all-nil thresholds, which are not cached.
func (s *Service) Thresholds(ctx context.Context, agentID string) Thresholds {
	var cached Thresholds

	err := cache.GetJSON(ctx, s.cache, cacheKey(agentID), &cached)
	if err == nil {
		return cached
	}

	if !errors.Is(err, cache.ErrKeyNotFound) {
		s.logger.Warn("Threshold cache read failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()))
	}

	return s.compute(ctx, agentID)
}

// Refresh drops the cached thresholds and recomputes them from a fresh read
// of the source.
func (s *Service) Refresh(ctx context.Context, agentID string) Thresholds {
	s.Invalidate(ctx, agentID)

	return s.compute(ctx, agentID)
}

// Invalidate drops the cached thresholds for agentID and stops in-flight
// computations from caching their results.
func (s *Service) Invalidate(ctx context.Context, agentID string) {
	s.gens.Bump(agentID)

	if err := s.cache.Delete(ctx, cacheKey(agentID)); err != nil {
		s.logger.Warn("Threshold cache delete failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) compute(ctx context.Context, agentID string) Thresholds {
	gen := s.gens.Current(agentID)

	v, _, _ := s.group.Do(cache.FlightKey(agentID, gen), func() (any, error) {
		var t Thresholds

		for _, signal := range Signals() {
			stats, err := s.source.SignalStats(ctx, agentID, signal.Column())
			if err != nil {
				s.logger.Warn("Threshold computation failed",
					slog.String("agent_id", agentID),
					slog.String("signal", string(signal)),
					slog.String("error", err.Error()))

				return Thresholds{}, nil
			}

			p95 := threshold(stats, s.minSamples)
			if p95 == nil {
				s.logger.Debug("Insufficient data for threshold",
					slog.String("agent_id", agentID),
					slog.String("signal", string(signal)),
					slog.Int("samples", stats.Count),
					slog.Int("min_samples", s.minSamples))
			}

			t.set(signal, p95)
		}

		if _, err := s.gens.StoreJSON(ctx, s.cache, agentID, gen, cacheKey(agentID), t, s.ttl); err != nil {
			s.logger.Warn("Threshold cache write failed",
				slog.String("agent_id", agentID),
				slog.String("error", err.Error()))
		}

		return t, nil
	})

	t, _ := v.(Thresholds)

	return t
}

func cacheKey(agentID string) string {
	return cacheKeyPrefix + agentID
}
