package sse

import (
	"bufio"
	"io"
	"strings"
)

// Reader reads SSE events from a source io.Reader. When constructed with
// NewTeeReader it also writes every raw line verbatim to a destination
// io.Writer, so a downstream client receives an exact copy of the stream
// while the caller inspects parsed events.
//
// ┌──────────────────┐
// │ source io.Reader │
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐   ┌───────────────────────┐
// │   Reader.Next()  │──▶│ destination io.Writer │
// └──────────────────┘   └───────────────────────┘
// │
// ▼
// ┌──────────────────┐
// │      Event       │
// └──────────────────┘
type Reader struct {
	scanner *bufio.Scanner
	dest    io.Writer

	// current accumulates fields for the event being built.
	current *Event
	pending bool
}

// NewReader returns a Reader that parses SSE events from src.
func NewReader(src io.Reader) *Reader {
	return NewTeeReader(src, nil)
}

// NewTeeReader returns a Reader that parses SSE events from src and writes
// all raw bytes through to dest. A nil dest disables the tee.
func NewTeeReader(src io.Reader, dest io.Writer) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &Reader{
		scanner: scanner,
		dest:    dest,
		current: &Event{},
	}
}

// Next returns the next parsed SSE event. It blocks until a complete event
// is available and returns nil, nil when the source is exhausted.
//
// Lines are decoded as UTF-8; invalid sequences are replaced with U+FFFD.
// Because the scanner buffers whole lines, multi-byte sequences split across
// network reads are reassembled before decoding.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		raw := r.scanner.Text()

		if r.dest != nil {
			// bufio.Scanner strips the newline so it is reinserted here.
			if _, err := io.WriteString(r.dest, raw+"\n"); err != nil {
				return nil, err
			}
		}

		raw = strings.TrimSuffix(raw, "\r")

		// A blank line signals the end of the current event.
		if raw == "" {
			if r.pending {
				return r.take(), nil
			}

			// Leading blank lines and keep-alives.
			continue
		}

		// Comments.
		if strings.HasPrefix(raw, ":") {
			continue
		}

		r.parseLine(strings.ToValidUTF8(raw, "\uFFFD"))
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended without a trailing blank line.
	if r.pending {
		return r.take(), nil
	}

	return nil, nil
}

// parseLine accumulates a single "field:value" line into the current event.
// A single leading space after the colon is stripped.
func (r *Reader) parseLine(line string) {
	field, value, ok := strings.Cut(line, ":")
	if ok {
		value = strings.TrimPrefix(value, " ")
	} else {
		field = line
	}

	switch field {
	case "data":
		if r.current.hasData {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.current.hasData = true
	case "event":
		r.current.Type = value
	case "id":
		r.current.ID = value
	case "retry":
		r.current.Retry = value
	default:
		// Unknown fields are ignored.
		return
	}

	r.pending = true
}

func (r *Reader) take() *Event {
	ev := r.current
	r.current = &Event{}
	r.pending = false
	return ev
}
