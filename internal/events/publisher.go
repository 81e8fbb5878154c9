package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ MessageWriter = (*kafka.Writer)(nil)

// Publisher announces call changes on the calls topic. Messages are keyed by
// agent id so events for one agent stay ordered.
type Publisher struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewPublisher builds a publisher for cfg.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}

	if cfg.Topic == "" {
		return nil, ErrTopicEmpty
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}

	return NewPublisherWithWriter(writer, logger), nil
}

// NewPublisherWithWriter builds a publisher over an existing writer.
func NewPublisherWithWriter(writer MessageWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Publisher{writer: writer, logger: logger.With(slog.String("component", "events"))}
}

// Publish writes events.
func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))

	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode call event: %w", err)
		}

		msgs = append(msgs, kafka.Message{Key: []byte(event.AgentID), Value: value})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish call events: %w", err)
	}

	p.logger.Debug("Published call events", slog.Int("count", len(msgs)))

	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
