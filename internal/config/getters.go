// Package config reads callscope settings from the process environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvStr returns the value of key, or defaultValue when it is unset or empty.
//
// Parameters:
//   - key[string]: environment variable name
//   - defaultValue[string]: fallback value
//
// Example:
//
//	host := GetEnvStr("CALLSCOPE_SERVER_HOST", "localhost")
func GetEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// GetEnvInt returns key parsed as an int, or defaultValue when unset or malformed.
//
// Parameters:
//   - key[string]: environment variable name
//   - defaultValue[int]: fallback value
//
// Example:
//
//	size := GetEnvInt("CALLSCOPE_DISCOVERY_SAMPLE_SIZE", 500)
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}

	return defaultValue
}

// GetEnvInt64 returns key parsed as an int64, or defaultValue when unset or malformed.
//
// Parameters:
//   - key[string]: environment variable name
//   - defaultValue[int64]: fallback value
//
// Example:
//
//	limit := GetEnvInt64("CALLSCOPE_MAX_REQUEST_SIZE", 1048576)
func GetEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if int64Value, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return int64Value
		}
	}

	return defaultValue
}

// GetEnvFloat returns key parsed as a float64, or defaultValue when unset or malformed.
//
// Parameters:
//   - key[string]: environment variable name
//   - defaultValue[float64]: fallback value
//
// Example:
//
//	p := GetEnvFloat("CALLSCOPE_ANOMALY_PERCENTILE", 0.95)
func GetEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}

	return defaultValue
}

// GetEnvBool returns key as a bool. "true", "1" and "yes" are true; "false",
// "0" and "no" are false; anything else yields defaultValue.
//
// Parameters:
//   - key[string]: environment variable name
//   - defaultValue[bool]: fallback value
//
// Example:
//
//	migrate := GetEnvBool("CALLSCOPE_AUTO_MIGRATE", false)
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}

	return defaultValue
}

// GetEnvDuration returns key parsed with time.ParseDuration, or defaultValue.
//
// Parameters:
//   - key[string]: environment variable name
//   - defaultValue[time.Duration]: fallback value
//
// Example:
//
//	ttl := GetEnvDuration("CALLSCOPE_CACHE_TTL", 10*time.Minute)
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return duration
		}
	}

	return defaultValue
}

// GetEnvLogLevel returns key as a slog level (debug, info, warn, error).
//
// Parameters:
//   - key[string]: environment variable name
//   - defaultValue[slog.Level]: fallback value
//
// Example:
//
//	level := GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "debug":
			return slog.LevelDebug
		case "info":
			return slog.LevelInfo
		case "warn", "warning":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		}
	}

	return defaultValue
}

// ParseCommaSeparatedList splits input on commas, trimming entries and dropping empty ones.
func ParseCommaSeparatedList(input string) []string {
	if input == "" {
		return []string{}
	}

	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
