// Package delta classifies provider streaming deltas into text and
// structured call fragments.
//
// Every supported provider payload is first translated into the canonical
// chat-completion Chunk shape. Classify then decides, from the chunk and the
// current State, whether the chunk carries plain text or a piece of a
// function call or tool calls invocation. Call pieces are emitted as raw JSON
// text that concatenates into one valid JSON document per call.
package delta

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidJSON is returned when a provider payload is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON payload")

// Chunk is the canonical chat-completion streaming chunk.
type Chunk struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// Choice is one streamed choice. Text is only populated by legacy
// (non-chat) completion responses.
type Choice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	Text         string `json:"text,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta is the incremental message update of a chat-completion choice.
type Delta struct {
	Role         string             `json:"role,omitempty"`
	Content      string             `json:"content,omitempty"`
	FunctionCall *FunctionCallDelta `json:"function_call,omitempty"`
	ToolCalls    []ToolCallDelta    `json:"tool_calls,omitempty"`
}

// FunctionCallDelta is a partial function call. Name is only present on the
// first delta of a call.
type FunctionCallDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCallDelta is a partial tool call.
type ToolCallDelta struct {
	Index    int               `json:"index"`
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function FunctionCallDelta `json:"function"`
}

// first returns the first choice, or nil.
func (c *Chunk) first() *Choice {
	if c == nil || len(c.Choices) == 0 {
		return nil
	}
	return &c.Choices[0]
}

// ParseChunk normalizes and decodes a chat-completion payload.
func ParseChunk(data []byte) (*Chunk, error) {
	normalized, err := Normalize(data)
	if err != nil {
		return nil, err
	}

	var c Chunk
	if err := json.Unmarshal(normalized, &c); err != nil {
		return nil, fmt.Errorf("decoding chunk: %w", err)
	}

	return &c, nil
}

// Normalize translates vendor variants of the chat-completion chunk into the
// canonical snake_case shape. Payloads already in canonical form are returned
// unchanged.
//
// The Azure variant is recognized by its promptFilterResults key, or by
// camelCase functionCall, toolCalls or finishReason fields on a choice.
// Tool calls in that variant carry no index, so the position in the array
// is used.
func Normalize(data []byte) ([]byte, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}

	if !isAzure(data) {
		return data, nil
	}

	out := append([]byte(nil), data...)
	var err error

	for i, choice := range gjson.GetBytes(data, "choices").Array() {
		base := fmt.Sprintf("choices.%d", i)

		if fc := choice.Get("delta.functionCall"); fc.Exists() {
			if out, err = move(out, base+".delta.functionCall", base+".delta.function_call", fc.Raw); err != nil {
				return nil, err
			}
		}

		if tcs := choice.Get("delta.toolCalls"); tcs.IsArray() {
			calls := "[]"
			for j, tc := range tcs.Array() {
				call, err := sjson.Set(tc.Raw, "index", j)
				if err != nil {
					return nil, fmt.Errorf("normalizing tool call: %w", err)
				}
				if calls, err = sjson.SetRaw(calls, "-1", call); err != nil {
					return nil, fmt.Errorf("normalizing tool call: %w", err)
				}
			}
			if out, err = move(out, base+".delta.toolCalls", base+".delta.tool_calls", calls); err != nil {
				return nil, err
			}
		}

		if fr := choice.Get("finishReason"); fr.Exists() {
			if out, err = move(out, base+".finishReason", base+".finish_reason", fr.Raw); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func isAzure(data []byte) bool {
	if gjson.GetBytes(data, "promptFilterResults").Exists() {
		return true
	}

	results := gjson.GetManyBytes(data,
		"choices.0.delta.functionCall",
		"choices.0.delta.toolCalls",
		"choices.0.finishReason",
	)
	for _, r := range results {
		if r.Exists() {
			return true
		}
	}
	return false
}

// move sets raw at path "to" and removes path "from".
func move(doc []byte, from, to, raw string) ([]byte, error) {
	doc, err := sjson.SetRawBytes(doc, to, []byte(raw))
	if err != nil {
		return nil, fmt.Errorf("setting %s: %w", to, err)
	}

	doc, err = sjson.DeleteBytes(doc, from)
	if err != nil {
		return nil, fmt.Errorf("deleting %s: %w", from, err)
	}

	return doc, nil
}
