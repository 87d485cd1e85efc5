package eventstream

import "context"

// Publisher publishes round events to an event stream backend.
type Publisher interface {
	PublishRound(ctx context.Context, event *RoundCompletedEvent) error
	Close() error
}
