package sse

import "io"

const (
	// DoneData is the data payload OpenAI-compatible providers send as the
	// final event of a stream.
	DoneData = "[DONE]"

	// DoneEvent is the event type some providers use to signal completion.
	DoneEvent = "done"
)

// Decoder yields the data payload of each event in a stream. Events with no
// data are skipped. The sequence ends at the first completion sentinel, or
// when the source is exhausted, and the sentinel itself is never yielded.
type Decoder struct {
	r    *Reader
	done bool
}

// NewDecoder returns a Decoder reading events from src.
func NewDecoder(src io.Reader) *Decoder {
	return &Decoder{r: NewReader(src)}
}

// Next returns the next event data payload, or io.EOF once the stream is
// complete. After io.EOF no further bytes are read from the source.
func (d *Decoder) Next() (string, error) {
	for !d.done {
		ev, err := d.r.Next()
		if err != nil {
			return "", err
		}
		if ev == nil {
			d.done = true
			break
		}

		if ev.Type == DoneEvent || ev.Data == DoneData {
			d.done = true
			break
		}

		if !ev.HasData() || ev.Data == "" {
			continue
		}

		return ev.Data, nil
	}

	return "", io.EOF
}
