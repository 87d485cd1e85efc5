package stream

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Data is a side channel of arbitrary JSON values interleaved into a
// multiplexed stream as data frames. It is safe for concurrent use.
//
// A stream configured with Data does not finish until Data is closed or the
// stream's context is done.
type Data struct {
	mu     sync.Mutex
	items  []json.RawMessage
	closed bool
	done   chan struct{}
}

// NewData returns an open Data.
func NewData() *Data {
	return &Data{done: make(chan struct{})}
}

// Append queues v for the next data frame. v must be JSON-serializable.
func (d *Data) Append(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding stream data: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDataClosed
	}
	d.items = append(d.items, raw)
	return nil
}

// Close marks the side channel complete. Values appended before Close are
// still delivered.
func (d *Data) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDataClosed
	}
	d.closed = true
	close(d.done)
	return nil
}

// Done is closed when Close is called.
func (d *Data) Done() <-chan struct{} {
	return d.done
}

// drain removes and returns every pending value.
func (d *Data) drain() []json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.items
	d.items = nil
	return items
}
