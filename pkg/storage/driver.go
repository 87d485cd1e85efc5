// Package storage persists completed stream rounds.
package storage

import (
	"context"
	"time"

	"github.com/QuietCraftsmanship/AI/pkg/llm"
)

// Round is the record of one proxied streaming exchange: every leg the
// stream relayed and the conversation as the call handlers left it.
type Round struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Legs is the number of upstream responses the round consumed.
	Legs int `json:"legs"`

	// Text is the final completion text delivered to the client.
	Text string `json:"text"`

	Messages []llm.Message `json:"messages"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Driver defines the interface for persisting and retrieving rounds in a
// storage backend.
type Driver interface {
	// Put stores a round, replacing any round with the same ID.
	Put(ctx context.Context, round *Round) error

	// Get retrieves a round by its ID. It returns an error wrapping
	// ErrNotFound when no such round exists.
	Get(ctx context.Context, id string) (*Round, error)

	// List returns all rounds ordered by completion time, oldest first.
	List(ctx context.Context) ([]*Round, error)

	// Close closes the store and releases any resources.
	Close() error
}
