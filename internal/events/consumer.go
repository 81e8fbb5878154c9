package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Event types carried on the calls topic.
const (
	TypeCallIngested = "call.ingested"
	TypeCallDeleted  = "call.deleted"
)

var (
	// ErrMalformedEvent is returned for messages that are not a call event.
	ErrMalformedEvent = errors.New("malformed call event")
	// ErrCommitFailed is returned when offsets cannot be committed.
	ErrCommitFailed = errors.New("failed to commit kafka offsets")
)

// Event announces a change to the calls of an agent.
type Event struct {
	AgentID string   `json:"agentId"`
	Type    string   `json:"type"`
	CallIDs []string `json:"callIds,omitempty"`
}

// Invalidator drops cached state derived from an agent's calls.
type Invalidator interface {
	Invalidate(ctx context.Context, agentID string)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context, agentID string)

// Invalidate calls f.
func (f InvalidatorFunc) Invalidate(ctx context.Context, agentID string) { f(ctx, agentID) }

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ MessageReader = (*kafka.Reader)(nil)

// Consumer reads call events and fans them out to invalidators.
type Consumer struct {
	reader        MessageReader
	invalidators  []Invalidator
	commitRetries int
	logger        *slog.Logger
}

// NewConsumer builds a consumer-group reader for cfg.
func NewConsumer(cfg Config, logger *slog.Logger, invalidators ...Invalidator) (*Consumer, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
		MaxWait: cfg.MaxWait,
	})

	c := NewConsumerWithReader(reader, logger, invalidators...)
	if cfg.CommitRetries > 0 {
		c.commitRetries = cfg.CommitRetries
	}

	c.logger.Info("Kafka consumer configured",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic),
		slog.String("group_id", cfg.GroupID))

	return c, nil
}

// NewConsumerWithReader builds a consumer over an existing reader.
func NewConsumerWithReader(reader MessageReader, logger *slog.Logger, invalidators ...Invalidator) *Consumer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Consumer{
		reader:        reader,
		invalidators:  invalidators,
		commitRetries: defaultCommitRetries,
		logger:        logger.With(slog.String("component", "events")),
	}
}

// Run consumes messages until ctx is cancelled or the reader is closed.
// Malformed messages are logged and committed so they are not redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Kafka consumer stopping")

				return nil
			}

			return fmt.Errorf("kafka fetch: %w", err)
		}

		if err := c.Handle(ctx, msg); err != nil {
			c.logger.Warn("Skipping call event",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()))
		}

		if err := c.commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
	}
}

// Handle decodes one message and invalidates the caches of its agent.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	event, err := Decode(msg.Value)
	if err != nil {
		return err
	}

	switch event.Type {
	case TypeCallIngested, TypeCallDeleted:
	default:
		c.logger.Debug("Ignoring call event",
			slog.String("type", event.Type),
			slog.String("agent_id", event.AgentID))

		return nil
	}

	for _, inv := range c.invalidators {
		inv.Invalidate(ctx, event.AgentID)
	}

	c.logger.Debug("Invalidated agent caches",
		slog.String("agent_id", event.AgentID),
		slog.String("type", event.Type),
		slog.Int("calls", len(event.CallIDs)))

	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	var err error

	for attempt := 1; attempt <= c.commitRetries; attempt++ {
		if err = c.reader.CommitMessages(ctx, msg); err == nil {
			return nil
		}

		if ctx.Err() != nil {
			break
		}

		c.logger.Warn("Kafka commit failed",
			slog.Int("attempt", attempt),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()))
	}

	return fmt.Errorf("%w: %w", ErrCommitFailed, err)
}

// Decode parses a call event. Agent id is required.
func Decode(data []byte) (Event, error) {
	var event Event

	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	event.AgentID = strings.TrimSpace(event.AgentID)
	if event.AgentID == "" {
		return Event{}, fmt.Errorf("%w: missing agentId", ErrMalformedEvent)
	}

	return event, nil
}
