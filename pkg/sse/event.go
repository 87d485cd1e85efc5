// Package sse parses Server-Sent Events from an upstream model provider.
//
// Reader yields one Event per blank-line delimited block and can optionally
// tee the raw bytes to a downstream writer. Decoder sits on top of Reader and
// yields only the data payloads a stream pipeline consumes, stopping at the
// provider's completion sentinel.
//
// This package intentionally does NOT provide SSE writer or server
// capabilities.
//
// See: https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single parsed SSE event, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n".
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string

	// Retry is the raw "retry:" field value, if present.
	Retry string

	hasData bool
}

// HasData reports whether the event carried at least one "data:" field,
// including an empty one.
func (e *Event) HasData() bool {
	return e.hasData
}
