package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a round doesn't exist in the store.
	ErrNotFound = errors.New("round not found")

	// ErrNilRound is returned when storing a nil round.
	ErrNilRound = errors.New("cannot store nil round")

	// ErrMissingID is returned when storing a round without an ID.
	ErrMissingID = errors.New("cannot store round without id")
)

// NotFound returns an error wrapping ErrNotFound for the given round ID.
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Validate checks that a round can be stored.
func Validate(r *Round) error {
	if r == nil {
		return ErrNilRound
	}
	if r.ID == "" {
		return ErrMissingID
	}
	return nil
}
