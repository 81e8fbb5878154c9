package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	defaultMaxAgents           int     = 10000
	defaultGlobalRPS           int     = 100
	defaultAgentRPS            int     = 20
	defaultAnonRPS             int     = 10
	thresholdMultiplier        float64 = 0.8
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter decides whether a request may proceed.
	RateLimiter interface {
		// Allow reports whether a request for agentID is allowed. An empty
		// agentID means the request is not agent scoped.
		Allow(agentID string) bool
	}

	// InMemoryRateLimiter is a three-tier token bucket limiter built on
	// golang.org/x/time/rate: a global bucket, one bucket per agent and a
	// shared anonymous bucket. Agent buckets idle for longer than the idle
	// timeout are removed periodically. Once MaxAgents buckets exist, new
	// agents share the anonymous bucket.
	InMemoryRateLimiter struct {
		global    *rate.Limiter
		anonymous *rate.Limiter
		perAgent  map[string]*agentLimiter
		mu        sync.RWMutex
		ticker    *time.Ticker
		done      chan struct{}
		closeOnce sync.Once

		agentRPS        int
		agentBurst      int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxAgents       int
		warned          bool
	}

	agentLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

var _ RateLimiter = (*InMemoryRateLimiter)(nil)

// NewInMemoryRateLimiter creates a limiter and starts its cleanup loop.
// Callers must Close it.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	maxAgents := config.MaxAgents
	if maxAgents <= 0 {
		maxAgents = defaultMaxAgents
	}

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)),
		anonymous:       rate.NewLimiter(rate.Limit(config.AnonRPS), computeBurstCapacity(config.AnonRPS, config.AnonBurst)),
		perAgent:        make(map[string]*agentLimiter),
		done:            make(chan struct{}),
		agentRPS:        config.AgentRPS,
		agentBurst:      computeBurstCapacity(config.AgentRPS, config.AgentBurst),
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxAgents:       maxAgents,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns burstOverride when positive, otherwise 2 × rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks the global bucket first, then the agent or anonymous bucket.
func (rl *InMemoryRateLimiter) Allow(agentID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if agentID == "" {
		return rl.anonymous.Allow()
	}

	al := rl.limiterFor(agentID)
	if al == nil {
		return rl.anonymous.Allow()
	}

	al.mu.Lock()
	al.lastAccess = time.Now()
	al.mu.Unlock()

	return al.limiter.Allow()
}

// limiterFor returns the bucket of agentID, creating it lazily. It returns
// nil when the agent table is full.
func (rl *InMemoryRateLimiter) limiterFor(agentID string) *agentLimiter {
	rl.mu.RLock()
	al, ok := rl.perAgent[agentID]
	rl.mu.RUnlock()

	if ok {
		return al
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if al, ok = rl.perAgent[agentID]; ok {
		return al
	}

	count := len(rl.perAgent)
	if count >= rl.maxAgents {
		return nil
	}

	al = &agentLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.agentRPS), rl.agentBurst),
		lastAccess: time.Now(),
	}
	rl.perAgent[agentID] = al

	if !rl.warned && count+1 >= int(float64(rl.maxAgents)*thresholdMultiplier) {
		rl.warned = true

		slog.Warn("Rate limiter approaching max agents",
			slog.Int("current_agents", count+1),
			slog.Int("max_agents", rl.maxAgents))
	}

	return al
}

// Agents returns the number of tracked agent buckets.
func (rl *InMemoryRateLimiter) Agents() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.perAgent)
}

// Close stops the cleanup loop. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	interval := rl.cleanupInterval
	if interval <= 0 {
		interval = rateLimiterCleanupInterval
	}

	rl.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-rl.ticker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes agent buckets that have not been used recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idle := rl.idleTimeout
	if idle <= 0 {
		idle = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for agentID, al := range rl.perAgent {
		al.mu.Lock()
		last := al.lastAccess
		al.mu.Unlock()

		if now.Sub(last) > idle {
			delete(rl.perAgent, agentID)
		}
	}

	if len(rl.perAgent) < int(float64(rl.maxAgents)*thresholdMultiplier) {
		rl.warned = false
	}
}

// RateLimit rejects requests over the limit with a 429 problem response.
// It must run after AgentScope to apply per-agent limits.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID, _ := GetAgentID(r.Context())

			if limiter.Allow(agentID) {
				next.ServeHTTP(w, r)

				return
			}

			w.Header().Set("Retry-After", "1")

			detail := "Rate limit exceeded. Please retry after some time."
			if err := writeProblem(w, r, http.StatusTooManyRequests, detail); err != nil {
				logger.Error("Failed to write rate limit response",
					slog.String("correlation_id", GetCorrelationID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
			}
		})
	}
}
