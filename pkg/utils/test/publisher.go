package testutils

import (
	"context"
	"sync"

	"github.com/QuietCraftsmanship/AI/pkg/eventstream"
)

// MockPublisher is a test eventstream publisher that records every event.
// It is safe for concurrent use.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.RoundCompletedEvent

	// Err, when set, is returned by PublishRound and nothing is recorded.
	Err error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishRound(_ context.Context, event *eventstream.RoundCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns the recorded events in publish order.
func (m *MockPublisher) Events() []*eventstream.RoundCompletedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*eventstream.RoundCompletedEvent(nil), m.events...)
}

func (m *MockPublisher) Close() error {
	return nil
}
