package delta

// FragmentKind tags a fragment as text or as part of a structured call.
type FragmentKind int

const (
	// TextFragment is plain model output.
	TextFragment FragmentKind = iota

	// StructuredFragment is raw JSON text belonging to a function call or
	// tool calls document. Structured fragments are concatenated, not framed.
	StructuredFragment
)

// Fragment is the classification result of one provider delta.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// Text returns a text fragment.
func Text(s string) Fragment {
	return Fragment{Kind: TextFragment, Text: s}
}

// Structured returns a structured call fragment.
func Structured(s string) Fragment {
	return Fragment{Kind: StructuredFragment, Text: s}
}

// IsText reports whether f is plain text.
func (f Fragment) IsText() bool {
	return f.Kind == TextFragment
}

const (
	// FunctionCallPrefix starts every function call document.
	FunctionCallPrefix = `{"function_call":`

	// ToolCallsPrefix starts every tool calls document.
	ToolCallsPrefix = `{"tool_calls":`
)

const (
	finishFunctionCall = "function_call"
	finishStop         = "stop"
	finishToolCalls    = "tool_calls"
)

// Classify maps one canonical chunk to at most one fragment and returns the
// next state. It reports false when the chunk carries nothing to emit.
//
// Rules are applied in order, first match wins:
//
//  1. a function call name opens a function call document
//  2. a tool call name opens the tool calls array, or closes the previous
//     tool call and opens the next one
//  3. function call arguments are emitted escaped
//  4. tool call arguments are emitted escaped
//  5. finish reason "function_call" or "stop" closes a function call
//  6. finish reason "tool_calls" (or "stop") closes the tool calls array
//  7. anything else is text: delta content, or the legacy completion text
//
// Arguments that arrive in the same chunk as a name are appended to the
// opening fragment, and a closing finish reason on a call chunk appends the
// closer, so providers that batch a whole call into one chunk still produce
// a complete document.
//
// Text is returned untrimmed; trimming the start of a stream is the
// caller's concern.
func Classify(state State, c *Chunk) (State, Fragment, bool) {
	choice := c.first()
	if choice == nil {
		return state, Fragment{}, false
	}

	fc := choice.Delta.FunctionCall
	var tc *ToolCallDelta
	if len(choice.Delta.ToolCalls) > 0 {
		tc = &choice.Delta.ToolCalls[0]
	}

	var (
		next = state
		frag string
	)

	switch {
	case fc != nil && fc.Name != "":
		next = State{Mode: InFunctionCall}
		frag = `{"function_call": {"name": "` + escapeString(fc.Name) + `", "arguments": "` +
			escapeString(fc.Arguments)

	case tc != nil && tc.Function.Name != "":
		open := `{"id": "` + escapeString(tc.ID) + `", "type": "function", "function": {"name": "` +
			escapeString(tc.Function.Name) + `", "arguments": "` + escapeString(tc.Function.Arguments)

		if state.Mode != InToolCalls {
			next = State{Mode: InToolCalls, ToolCalls: 1}
			frag = `{"tool_calls":[ ` + open
		} else {
			next = State{Mode: InToolCalls, ToolCalls: state.ToolCalls + 1}
			frag = `"}}, ` + open
		}

	case fc != nil && fc.Arguments != "":
		frag = escapeString(fc.Arguments)

	case tc != nil && tc.Function.Arguments != "":
		frag = escapeString(tc.Function.Arguments)

	default:
		if closer, ok := closing(state, choice.FinishReason); ok {
			return State{Mode: Idle}, Structured(closer), true
		}

		text := choice.Delta.Content
		if text == "" {
			text = choice.Text
		}
		if text == "" {
			return state, Fragment{}, false
		}

		return state, Text(text), true
	}

	if closer, ok := closing(next, choice.FinishReason); ok {
		return State{Mode: Idle}, Structured(frag + closer), true
	}

	return next, Structured(frag), true
}

// closing returns the text that closes the call open in state, if the finish
// reason ends it.
func closing(state State, finishReason string) (string, bool) {
	switch state.Mode {
	case InFunctionCall:
		if finishReason == finishFunctionCall || finishReason == finishStop {
			return `"}}`, true
		}
	case InToolCalls:
		if finishReason == finishToolCalls || finishReason == finishStop {
			return `"}}]}`, true
		}
	}
	return "", false
}
