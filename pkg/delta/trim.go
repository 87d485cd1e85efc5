package delta

import (
	"strings"
	"unicode"
)

// Trimmer removes leading whitespace from the start of a stream. Only the
// first non-empty text it sees is trimmed; after that it is a no-op.
type Trimmer struct {
	started bool
}

// Trim returns s with leading whitespace removed if no non-empty text has
// passed through the Trimmer yet.
func (t *Trimmer) Trim(s string) string {
	if t.started {
		return s
	}

	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if s != "" {
		t.started = true
	}

	return s
}
