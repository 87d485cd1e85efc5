package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/QuietCraftsmanship/AI/pkg/storage"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeRoundCompleted is emitted after a streamed round is persisted.
	EventTypeRoundCompleted = "aistream.round.completed"
)

// RoundCompletedEvent is a transport-neutral event payload for a completed
// round.
type RoundCompletedEvent struct {
	SchemaVersion int           `json:"schema_version"`
	EventType     string        `json:"event_type"`
	EventID       string        `json:"event_id"`
	EmittedAt     time.Time     `json:"emitted_at"`
	RequestMeta   RequestMeta   `json:"request_meta"`
	Round         storage.Round `json:"round"`
}

// RequestMeta captures request lifecycle metadata for the event.
type RequestMeta struct {
	Path        string `json:"path,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	Multiplexed bool   `json:"multiplexed"`
}

// NewRoundCompletedEvent builds the event for a persisted round.
func NewRoundCompletedEvent(round *storage.Round, meta RequestMeta, now time.Time) *RoundCompletedEvent {
	if meta.DurationMs == 0 && !round.StartedAt.IsZero() && !round.CompletedAt.IsZero() {
		meta.DurationMs = round.CompletedAt.Sub(round.StartedAt).Milliseconds()
	}

	return &RoundCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeRoundCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     now.UTC(),
		RequestMeta:   meta,
		Round:         *round,
	}
}
