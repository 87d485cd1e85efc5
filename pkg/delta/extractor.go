package delta

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Parser turns one event data payload into at most one fragment. Parsers are
// stateful and belong to a single stream leg.
type Parser interface {
	Parse(data []byte) (Fragment, bool, error)
}

// Factory creates a fresh Parser for every stream leg.
type Factory func() Parser

// Translator converts a provider payload into the canonical Chunk shape.
type Translator func(data []byte) (*Chunk, error)

// Extractor is the stateful Parser for chat-completion style providers. It
// threads the call State through Classify and trims the start of the text
// stream.
type Extractor struct {
	translate Translator
	state     State
	trimmer   Trimmer
}

// NewExtractor returns an Extractor for OpenAI-compatible chunks, including
// the Azure variant and legacy completions.
func NewExtractor() *Extractor {
	return &Extractor{translate: ParseChunk}
}

// NewTranslatingExtractor returns an Extractor that uses translate to reach
// the canonical shape.
func NewTranslatingExtractor(translate Translator) *Extractor {
	return &Extractor{translate: translate}
}

// State returns the current call state.
func (e *Extractor) State() State {
	return e.state
}

// Parse implements Parser.
func (e *Extractor) Parse(data []byte) (Fragment, bool, error) {
	c, err := e.translate(data)
	if err != nil {
		return Fragment{}, false, fmt.Errorf("parsing provider chunk: %w", err)
	}

	next, frag, ok := Classify(e.state, c)
	e.state = next
	if !ok {
		return Fragment{}, false, nil
	}

	if frag.IsText() {
		frag.Text = e.trimmer.Trim(frag.Text)
		if frag.Text == "" {
			return Fragment{}, false, nil
		}
	}

	return frag, true, nil
}

// Anthropic returns a Parser for Anthropic Messages API stream events.
// Text deltas become text; tool_use blocks stream as tool calls.
func Anthropic() Parser {
	return NewTranslatingExtractor(translateAnthropic)
}

func translateAnthropic(data []byte) (*Chunk, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}

	ev := gjson.ParseBytes(data)
	index := int(ev.Get("index").Int())

	var choice Choice
	switch ev.Get("type").String() {
	case "content_block_start":
		block := ev.Get("content_block")
		switch block.Get("type").String() {
		case "tool_use":
			choice.Delta.ToolCalls = []ToolCallDelta{{
				Index: index,
				ID:    block.Get("id").String(),
				Type:  "function",
				Function: FunctionCallDelta{
					Name: block.Get("name").String(),
				},
			}}
		case "text":
			choice.Delta.Content = block.Get("text").String()
		}

	case "content_block_delta":
		d := ev.Get("delta")
		switch d.Get("type").String() {
		case "input_json_delta":
			choice.Delta.ToolCalls = []ToolCallDelta{{
				Index:    index,
				Function: FunctionCallDelta{Arguments: d.Get("partial_json").String()},
			}}
		default:
			choice.Delta.Content = d.Get("text").String()
		}

	case "message_delta":
		switch ev.Get("delta.stop_reason").String() {
		case "tool_use":
			choice.FinishReason = finishToolCalls
		case "":
		default:
			choice.FinishReason = finishStop
		}

	default:
		return &Chunk{}, nil
	}

	return &Chunk{Choices: []Choice{choice}}, nil
}

// Ollama returns a Parser for Ollama /api/chat NDJSON lines.
func Ollama() Parser {
	return NewTranslatingExtractor(translateOllama)
}

func translateOllama(data []byte) (*Chunk, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}

	content := gjson.GetBytes(data, "message.content").String()
	if content == "" {
		return &Chunk{}, nil
	}

	return &Chunk{Choices: []Choice{{Delta: Delta{Content: content}}}}, nil
}

// Raw returns a Parser that emits every payload verbatim as text.
func Raw() Parser {
	return rawParser{}
}

type rawParser struct{}

func (rawParser) Parse(data []byte) (Fragment, bool, error) {
	if len(data) == 0 {
		return Fragment{}, false, nil
	}
	return Text(string(data)), true, nil
}

// ForProvider returns the parser factory for a provider name.
func ForProvider(name string) (Factory, error) {
	switch strings.ToLower(name) {
	case "", "openai", "azure":
		return func() Parser { return NewExtractor() }, nil
	case "anthropic":
		return Anthropic, nil
	case "ollama":
		return Ollama, nil
	case "raw":
		return Raw, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
}
