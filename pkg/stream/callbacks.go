package stream

import (
	"context"
	"encoding/json"
)

// Callbacks are the consumer hooks of a Stream. Every field is optional.
//
// Hooks run synchronously on the goroutine calling Read, in the order the
// stream produces them. A hook error is logged and otherwise ignored.
type Callbacks struct {
	// OnStart fires once, before the first byte is returned.
	OnStart func(ctx context.Context) error

	// OnToken fires for every fragment, including call fragments.
	OnToken func(ctx context.Context, token string) error

	// OnText fires for every forwarded text fragment.
	OnText func(ctx context.Context, text string) error

	// OnCompletion fires at the end of each leg with all fragments the leg
	// produced.
	OnCompletion func(ctx context.Context, completion string) error

	// OnFinal fires once, at the end of the last leg, with that leg's final
	// text.
	OnFinal func(ctx context.Context, completion string) error

	// FunctionCall handles a completed function call.
	FunctionCall FunctionCallHandler

	// ToolCalls handles a completed round of tool calls.
	ToolCalls ToolCallHandler
}

// FunctionCallHandler handles a completed function call. The continuation
// records the call result into the conversation for a follow-up request.
type FunctionCallHandler func(ctx context.Context, call FunctionCall, c *Continuation) (Result, error)

// ToolCallHandler handles a completed round of tool calls.
type ToolCallHandler func(ctx context.Context, calls []ToolCall, c *Continuation) (Result, error)

// FunctionCall is a completed function call with validated JSON arguments.
type FunctionCall struct {
	Name      string
	Arguments json.RawMessage
}

// Decode unmarshals the call arguments into v.
func (f FunctionCall) Decode(v any) error {
	return json.Unmarshal(f.Arguments, v)
}

// ToolCall is one completed tool call.
type ToolCall struct {
	ID       string
	Type     string
	Function FunctionCall
}

type resultKind int

const (
	resultDecline resultKind = iota
	resultText
	resultContinue
)

// Result is a call handler's decision. The zero value declines.
type Result struct {
	kind   resultKind
	text   string
	source Source
}

// Decline leaves the call unhandled; the stream emits it as its final frame.
func Decline() Result {
	return Result{}
}

// Text ends the stream with s as its final text.
func Text(s string) Result {
	return Result{kind: resultText, text: s}
}

// Continue resumes the stream from src, typically a follow-up model
// response that includes the call results.
func Continue(src Source) Result {
	if src == nil {
		return Decline()
	}
	return Result{kind: resultContinue, source: src}
}
