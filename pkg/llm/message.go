// Package llm holds the provider-agnostic chat types shared by the stream
// pipeline, the proxy and round recording.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
	RoleTool      = "tool"
)

// Message is a single chat message in the chat-completions wire shape.
// Assistant messages that request a call carry FunctionCall or ToolCalls;
// function and tool result messages carry Name and ToolCallID.
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID   string        `json:"tool_call_id,omitempty"`
}

// FunctionCall is a function invocation requested by the model. Arguments is
// the JSON-encoded argument object, exactly as the model produced it.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// UnmarshalJSON accepts content as a string, null, or an array of content
// parts. Only the text parts are kept, joined by newlines.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Content json.RawMessage `json:"content"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	text, err := contentText(aux.Content)
	if err != nil {
		return err
	}
	m.Content = text
	return nil
}

func contentText(raw json.RawMessage) (string, error) {
	content := gjson.ParseBytes(raw)
	switch {
	case len(raw) == 0 || content.Type == gjson.Null:
		return "", nil
	case content.Type == gjson.String:
		return content.String(), nil
	case content.IsArray():
		var parts []string
		for _, part := range content.Array() {
			if part.Get("type").String() == "text" {
				parts = append(parts, part.Get("text").String())
			}
		}
		return strings.Join(parts, "\n"), nil
	default:
		return "", fmt.Errorf("unsupported message content: %s", content.Raw)
	}
}

// NewTextMessage creates a simple text message with the given role and content.
func NewTextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

// Clone returns a deep copy of msgs.
func Clone(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.FunctionCall != nil {
			fc := *m.FunctionCall
			out[i].FunctionCall = &fc
		}
		if m.ToolCalls != nil {
			out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}
