// Package sqlite provides a SQLite-backed storage driver for rounds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/QuietCraftsmanship/AI/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
	id           TEXT PRIMARY KEY,
	provider     TEXT NOT NULL DEFAULT '',
	model        TEXT NOT NULL DEFAULT '',
	legs         INTEGER NOT NULL DEFAULT 0,
	text         TEXT NOT NULL DEFAULT '',
	messages     TEXT NOT NULL DEFAULT '[]',
	started_at   INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS rounds_completed_at ON rounds (completed_at);
`

const columns = `id, provider, model, legs, text, messages, started_at, completed_at`

// Driver implements storage.Driver using SQLite via database/sql.
type Driver struct {
	db *sql.DB
}

// NewDriver opens the database at dbPath and creates the schema.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewDriver(ctx context.Context, dbPath string) (*Driver, error) {
	// Open the database using the github.com/mattn/go-sqlite3 driver (registered as "sqlite3")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Driver{db: db}, nil
}

// Put inserts the round or replaces the stored round with the same ID.
func (d *Driver) Put(ctx context.Context, round *storage.Round) error {
	if err := storage.Validate(round); err != nil {
		return err
	}

	messages, err := json.Marshal(round.Messages)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO rounds (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		round.ID,
		round.Provider,
		round.Model,
		round.Legs,
		round.Text,
		string(messages),
		unixNano(round.StartedAt),
		unixNano(round.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("storing round %s: %w", round.ID, err)
	}

	return nil
}

// Get retrieves a round by its ID.
func (d *Driver) Get(ctx context.Context, id string) (*storage.Round, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+columns+` FROM rounds WHERE id = ?`, id)

	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading round %s: %w", id, err)
	}

	return round, nil
}

// List returns all rounds, oldest completion first.
func (d *Driver) List(ctx context.Context) ([]*storage.Round, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+columns+` FROM rounds ORDER BY completed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}
	defer rows.Close()

	var result []*storage.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("listing rounds: %w", err)
		}
		result = append(result, round)
	}

	return result, rows.Err()
}

// Close closes the database.
func (d *Driver) Close() error {
	return d.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(s scanner) (*storage.Round, error) {
	var (
		round              storage.Round
		messages           string
		started, completed int64
	)

	err := s.Scan(
		&round.ID,
		&round.Provider,
		&round.Model,
		&round.Legs,
		&round.Text,
		&messages,
		&started,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messages), &round.Messages); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}

	round.StartedAt = fromUnixNano(started)
	round.CompletedAt = fromUnixNano(completed)

	return &round, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
