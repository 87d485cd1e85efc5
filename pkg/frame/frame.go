// Package frame implements the line-oriented stream protocol spoken between
// the stream pipeline and its clients.
//
// Every frame is a single line of the form:
//
//	<prefix>:<payload>\n
//
// where prefix identifies the frame kind and payload is either a text
// fragment or the JSON serialization of a structured value.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the type of value carried by a frame.
type Kind int

const (
	// Text carries a plain text fragment of model output.
	Text Kind = iota

	// FunctionCall carries a completed {"function_call": {...}} object that no
	// handler consumed.
	FunctionCall

	// Data carries an array of arbitrary JSON values from the data side channel.
	Data

	// Error carries a terminal error message.
	Error

	// ToolCalls carries a completed {"tool_calls": [...]} object that no
	// handler consumed.
	ToolCalls
)

var prefixes = map[Kind]byte{
	Text:         '0',
	FunctionCall: '1',
	Data:         '2',
	Error:        '3',
	ToolCalls:    '7',
}

var kinds = func() map[byte]Kind {
	m := make(map[byte]Kind, len(prefixes))
	for k, p := range prefixes {
		m[p] = k
	}
	return m
}()

// String returns the protocol name of the kind.
func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case FunctionCall:
		return "function_call"
	case Data:
		return "data"
	case Error:
		return "error"
	case ToolCalls:
		return "tool_calls"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Prefix returns the wire prefix of the kind, or 0 for unknown kinds.
func (k Kind) Prefix() byte {
	return prefixes[k]
}

// Frame is one decoded protocol line.
type Frame struct {
	Kind Kind

	// Value is a string for Text frames. For every other kind it is the
	// decoded JSON value (map[string]any, []any, string, float64, bool or nil).
	Value any
}

// ErrTextNotString is returned when encoding a Text frame whose value is not
// a string.
var ErrTextNotString = errors.New("text frame value must be a string")

// Encode renders a single frame line, including its trailing newline.
//
// Text values are written verbatim unless they contain a line break or start
// with a double quote, in which case they are written as a JSON string
// literal so the line stays intact and decodes back to the same text.
// Values of every other kind are written as compact JSON; a json.RawMessage
// is validated and compacted rather than re-marshaled.
func Encode(kind Kind, value any) ([]byte, error) {
	prefix, ok := prefixes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown frame kind %d", int(kind))
	}

	var (
		payload []byte
		err     error
	)
	if kind == Text {
		payload, err = encodeText(value)
	} else {
		payload, err = encodeJSON(value)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", kind, err)
	}

	line := make([]byte, 0, len(payload)+3)
	line = append(line, prefix, ':')
	line = append(line, payload...)
	line = append(line, '\n')
	return line, nil
}

// EncodeText is a convenience for Encode(Text, s) that cannot fail.
func EncodeText(s string) []byte {
	line, _ := Encode(Text, s)
	return line
}

func encodeText(value any) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, ErrTextNotString
	}

	if !needsQuoting(s) {
		return []byte(s), nil
	}

	return marshal(s)
}

func needsQuoting(s string) bool {
	return strings.HasPrefix(s, `"`) || strings.ContainsAny(s, "\r\n")
}

func encodeJSON(value any) ([]byte, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return compact(v)
	case []byte:
		return compact(v)
	default:
		return marshal(v)
	}
}

func compact(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshal encodes v as JSON without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a single protocol line. A trailing newline is tolerated.
// It reports false for lines without a known "<digit>:" prefix and for
// structured frames whose payload is not valid JSON.
func Decode(line string) (Frame, bool) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	if len(line) < 2 || line[1] != ':' {
		return Frame{}, false
	}

	kind, ok := kinds[line[0]]
	if !ok {
		return Frame{}, false
	}

	payload := line[2:]

	if kind == Text {
		if strings.HasPrefix(payload, `"`) {
			var s string
			if err := json.Unmarshal([]byte(payload), &s); err == nil {
				return Frame{Kind: Text, Value: s}, true
			}
		}
		return Frame{Kind: Text, Value: payload}, true
	}

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return Frame{}, false
	}

	return Frame{Kind: kind, Value: v}, true
}

// Text returns the frame value as a string, or "" if it is not one.
func (f Frame) Text() string {
	s, _ := f.Value.(string)
	return s
}

// Unmarshal decodes a structured frame value into v.
func (f Frame) Unmarshal(v any) error {
	raw, err := json.Marshal(f.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
