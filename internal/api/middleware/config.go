package middleware

import (
	"time"

	"github.com/callscope/callscope/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits are requests per second for three tiers:
//   - Global: every request
//   - Per-agent: requests on /api/v1/agents/{agentID}/...
//   - Anonymous: every other request
//
// A zero burst is computed as 2 × rate.
type Config struct {
	GlobalRPS int
	AgentRPS  int
	AnonRPS   int

	GlobalBurst int
	AgentBurst  int
	AnonBurst   int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxAgents       int
}

// LoadConfig reads rate limits from the environment.
//
// Environment variables:
//   - CALLSCOPE_GLOBAL_RPS (default: 100), CALLSCOPE_GLOBAL_BURST
//   - CALLSCOPE_AGENT_RPS (default: 20), CALLSCOPE_AGENT_BURST
//   - CALLSCOPE_ANON_RPS (default: 10), CALLSCOPE_ANON_BURST
//   - CALLSCOPE_RATE_LIMIT_CLEANUP_INTERVAL (default: 5m)
//   - CALLSCOPE_RATE_LIMIT_IDLE_TIMEOUT (default: 1h)
//   - CALLSCOPE_RATE_LIMIT_MAX_AGENTS (default: 10000)
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("CALLSCOPE_GLOBAL_RPS", defaultGlobalRPS),
		AgentRPS:  config.GetEnvInt("CALLSCOPE_AGENT_RPS", defaultAgentRPS),
		AnonRPS:   config.GetEnvInt("CALLSCOPE_ANON_RPS", defaultAnonRPS),

		GlobalBurst: config.GetEnvInt("CALLSCOPE_GLOBAL_BURST", 0),
		AgentBurst:  config.GetEnvInt("CALLSCOPE_AGENT_BURST", 0),
		AnonBurst:   config.GetEnvInt("CALLSCOPE_ANON_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"CALLSCOPE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("CALLSCOPE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxAgents:   config.GetEnvInt("CALLSCOPE_RATE_LIMIT_MAX_AGENTS", defaultMaxAgents),
	}
}
