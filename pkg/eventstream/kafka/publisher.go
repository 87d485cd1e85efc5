// Package kafka publishes round events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/QuietCraftsmanship/AI/pkg/eventstream"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
)

// MessageWriter is the subset of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config configures a Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string

	// WriteTimeout bounds a single publish. Defaults to 10 seconds.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Publisher writes each round event as one JSON message keyed by round ID,
// so every event for a round lands on the same partition.
type Publisher struct {
	writer  MessageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher creates a publisher backed by a kafka-go Writer.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return NewPublisherWithWriter(w, cfg), nil
}

// NewPublisherWithWriter creates a publisher on top of an existing writer.
// The writer must already be bound to cfg.Topic.
func NewPublisherWithWriter(w MessageWriter, cfg Config) *Publisher {
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Publisher{
		writer:  w,
		topic:   cfg.Topic,
		timeout: timeout,
		logger:  logger.OrNop(cfg.Logger),
	}
}

// PublishRound encodes and writes the event.
func (p *Publisher) PublishRound(ctx context.Context, event *eventstream.RoundCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding round event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafkago.Message{
		Key:   []byte(event.Round.ID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: event.EmittedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing round %s to %s: %w", event.Round.ID, p.topic, err)
	}

	p.logger.Debug("published round event",
		"round_id", event.Round.ID,
		"event_id", event.EventID,
		"topic", p.topic,
	)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
