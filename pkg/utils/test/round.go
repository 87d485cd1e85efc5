package testutils

import (
	"time"

	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
)

// NewTestRound creates a single-leg round for testing, completed at the
// given offset from a fixed base time.
func NewTestRound(id string, offset time.Duration) *storage.Round {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return &storage.Round{
		ID:       id,
		Provider: "test-provider",
		Model:    "test-model",
		Legs:     1,
		Text:     "answer " + id,
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleUser, "question "+id),
		},
		StartedAt:   base.Add(offset),
		CompletedAt: base.Add(offset + time.Second),
	}
}
