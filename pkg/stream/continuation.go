package stream

import (
	"encoding/json"
	"fmt"

	"github.com/QuietCraftsmanship/AI/pkg/llm"
)

// Continuation is the conversation carried across stream legs. A handler
// appends call results to it; the resulting messages seed the next request
// and the next leg.
//
// Every append returns a fresh slice. Slices returned earlier are never
// modified.
type Continuation struct {
	messages  []llm.Message
	assistant llm.Message
	appended  bool
}

func newFunctionContinuation(base []llm.Message, call FunctionCall) *Continuation {
	return &Continuation{
		messages: base,
		assistant: llm.Message{
			Role: llm.RoleAssistant,
			FunctionCall: &llm.FunctionCall{
				Name:      call.Name,
				Arguments: string(call.Arguments),
			},
		},
	}
}

func newToolContinuation(base []llm.Message, calls []ToolCall) *Continuation {
	toolCalls := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		toolCalls[i] = llm.ToolCall{
			ID:   c.ID,
			Type: c.Type,
			Function: llm.FunctionCall{
				Name:      c.Function.Name,
				Arguments: string(c.Function.Arguments),
			},
		}
	}

	return &Continuation{
		messages: base,
		assistant: llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: toolCalls,
		},
	}
}

// Messages returns a copy of the conversation as it stands.
func (c *Continuation) Messages() []llm.Message {
	return llm.Clone(c.messages)
}

// AppendFunctionResult records the function call and its JSON-encoded result
// and returns the updated conversation.
func (c *Continuation) AppendFunctionResult(result any) ([]llm.Message, error) {
	content, err := encodeResult(result)
	if err != nil {
		return nil, err
	}

	name := ""
	if c.assistant.FunctionCall != nil {
		name = c.assistant.FunctionCall.Name
	}

	return c.append(llm.Message{
		Role:    llm.RoleFunction,
		Name:    name,
		Content: content,
	}), nil
}

// AppendToolResult records the result of the tool call with the given id and
// returns the updated conversation. The assistant message carrying the tool
// calls is added only once, before the first result.
func (c *Continuation) AppendToolResult(id, name string, result any) ([]llm.Message, error) {
	content, err := encodeResult(result)
	if err != nil {
		return nil, err
	}

	return c.append(llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: id,
		Name:       name,
		Content:    content,
	}), nil
}

func (c *Continuation) append(msg llm.Message) []llm.Message {
	next := make([]llm.Message, 0, len(c.messages)+2)
	next = append(next, c.messages...)
	if !c.appended {
		next = append(next, c.assistant)
		c.appended = true
	}
	next = append(next, msg)

	c.messages = next
	return llm.Clone(next)
}

func encodeResult(result any) (string, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding call result: %w", err)
	}
	return string(b), nil
}
