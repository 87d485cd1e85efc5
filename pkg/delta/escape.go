package delta

import (
	"bytes"
	"encoding/json"
)

// escapeString returns s encoded as the body of a JSON string literal,
// without the surrounding quotes.
//
// Backslash, double quote and every control character are escaped, and
// invalid UTF-8 is replaced with U+FFFD, so that any sequence of escaped
// fragments concatenates into a valid string literal body.
func escapeString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// Encoding a string cannot fail.
	_ = enc.Encode(s)

	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return string(out[1 : len(out)-1])
}
