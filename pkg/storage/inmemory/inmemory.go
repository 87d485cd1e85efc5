// Package inmemory provides a map-backed storage driver for rounds.
package inmemory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu is a read write sync mutex for locking the mapping of rounds
	mu sync.RWMutex

	// rounds is the in memory map of rounds keyed by round ID
	rounds map[string]*storage.Round
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		rounds: make(map[string]*storage.Round),
	}
}

// Put stores a copy of the round.
func (d *Driver) Put(_ context.Context, round *storage.Round) error {
	if err := storage.Validate(round); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.rounds[round.ID] = clone(round)
	return nil
}

// Get retrieves a round by its ID.
func (d *Driver) Get(_ context.Context, id string) (*storage.Round, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	round, ok := d.rounds[id]
	if !ok {
		return nil, storage.NotFound(id)
	}

	return clone(round), nil
}

// List returns all rounds, oldest completion first.
func (d *Driver) List(_ context.Context) ([]*storage.Round, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*storage.Round, 0, len(d.rounds))
	for _, round := range d.rounds {
		result = append(result, clone(round))
	}

	slices.SortFunc(result, func(a, b *storage.Round) int {
		if c := a.CompletedAt.Compare(b.CompletedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return result, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

func clone(r *storage.Round) *storage.Round {
	c := *r
	c.Messages = llm.Clone(r.Messages)
	return &c
}
