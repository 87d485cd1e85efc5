package nop

import (
	"context"

	"github.com/QuietCraftsmanship/AI/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishRound validates input and otherwise does nothing.
func (p *Publisher) PublishRound(_ context.Context, event *eventstream.RoundCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
