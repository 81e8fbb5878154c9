// Package events consumes call-ingestion events from Kafka and invalidates
// the per-agent caches that depend on the call-log population.
package events

import (
	"errors"
	"time"

	"github.com/callscope/callscope/internal/config"
)

const (
	defaultTopic         = "callscope.calls"
	defaultGroupID       = "callscope"
	defaultMaxWait       = 500 * time.Millisecond
	defaultCommitRetries = 3
)

var (
	// ErrTopicEmpty is returned when the consumer is enabled without a topic.
	ErrTopicEmpty = errors.New("kafka topic cannot be empty")
	// ErrGroupIDEmpty is returned when the consumer is enabled without a group.
	ErrGroupIDEmpty = errors.New("kafka group id cannot be empty")
	// ErrDisabled is returned when building a consumer without brokers.
	ErrDisabled = errors.New("kafka consumer disabled: no brokers configured")
)

// Config holds Kafka consumer settings.
type Config struct {
	Brokers       []string
	Topic         string
	GroupID       string
	MaxWait       time.Duration
	CommitRetries int
}

// LoadConfig reads Kafka settings from the environment.
//
// Environment variables:
//   - CALLSCOPE_KAFKA_BROKERS: comma-separated broker list (default: empty, consumer disabled)
//   - CALLSCOPE_KAFKA_TOPIC: topic carrying call events (default: callscope.calls)
//   - CALLSCOPE_KAFKA_GROUP_ID: consumer group (default: callscope)
//   - CALLSCOPE_KAFKA_MAX_WAIT: max time a fetch waits for data (default: 500ms)
func LoadConfig() Config {
	return Config{
		Brokers:       config.ParseCommaSeparatedList(config.GetEnvStr("CALLSCOPE_KAFKA_BROKERS", "")),
		Topic:         config.GetEnvStr("CALLSCOPE_KAFKA_TOPIC", defaultTopic),
		GroupID:       config.GetEnvStr("CALLSCOPE_KAFKA_GROUP_ID", defaultGroupID),
		MaxWait:       config.GetEnvDuration("CALLSCOPE_KAFKA_MAX_WAIT", defaultMaxWait),
		CommitRetries: defaultCommitRetries,
	}
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Validate checks the configuration. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if c.Topic == "" {
		return ErrTopicEmpty
	}

	if c.GroupID == "" {
		return ErrGroupIDEmpty
	}

	return nil
}
