package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("stream closed")

	// ErrDataClosed is returned when appending to, or closing, a Data that
	// has already been closed.
	ErrDataClosed = errors.New("stream data already closed")
)

// UpstreamError reports a non-success HTTP status from the model provider.
// It is surfaced once and never retried.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if body == "" {
		body = "no body"
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, body)
}

// MalformedFragmentError reports a completed call whose accumulated JSON
// could not be parsed. It terminates the stream.
type MalformedFragmentError struct {
	Buffer string
	Err    error
}

func (e *MalformedFragmentError) Error() string {
	return fmt.Sprintf("malformed call payload: %v", e.Err)
}

func (e *MalformedFragmentError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure inside a function or tool call handler. It is
// logged and the call is treated as declined.
type HandlerError struct {
	Kind string
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler: %v", e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
