package delta

// Mode is the call streaming mode of a stream.
type Mode int

const (
	// Idle means no call is being streamed.
	Idle Mode = iota

	// InFunctionCall means a function call's arguments are being streamed.
	InFunctionCall

	// InToolCalls means one or more tool calls are being streamed.
	InToolCalls
)

// String returns a readable mode name.
func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case InFunctionCall:
		return "in_function_call"
	case InToolCalls:
		return "in_tool_calls"
	default:
		return "unknown"
	}
}

// State is the call accumulator state threaded through Classify.
type State struct {
	Mode Mode

	// ToolCalls counts the tool calls opened in the current round. It decides
	// whether the next tool call opens the array or continues it.
	ToolCalls int
}
