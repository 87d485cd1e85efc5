package delta_test

import (
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/QuietCraftsmanship/AI/pkg/delta"
)

// run feeds payloads through a fresh OpenAI extractor and returns every
// emitted fragment.
func run(payloads ...string) []delta.Fragment {
	e := delta.NewExtractor()
	var out []delta.Fragment
	for _, p := range payloads {
		frag, ok, err := e.Parse([]byte(p))
		Expect(err).NotTo(HaveOccurred())
		if ok {
			out = append(out, frag)
		}
	}
	return out
}

func joined(frags []delta.Fragment) string {
	var sb strings.Builder
	for _, f := range frags {
		sb.WriteString(f.Text)
	}
	return sb.String()
}

var _ = Describe("Classify", func() {
	Context("with text deltas", func() {
		It("emits delta content as text", func() {
			frags := run(
				`{"choices":[{"delta":{"role":"assistant","content":""}}]}`,
				`{"choices":[{"delta":{"content":"Hello"}}]}`,
				`{"choices":[{"delta":{"content":", world"}}]}`,
				`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			)
			Expect(frags).To(Equal([]delta.Fragment{delta.Text("Hello"), delta.Text(", world")}))
		})

		It("reads legacy completion text", func() {
			frags := run(
				`{"choices":[{"text":"Once","index":0}]}`,
				`{"choices":[{"text":" upon","index":0,"finish_reason":null}]}`,
			)
			Expect(joined(frags)).To(Equal("Once upon"))
		})

		It("trims only the first non-empty text of the stream", func() {
			frags := run(
				`{"choices":[{"delta":{"content":"\n\n"}}]}`,
				`{"choices":[{"delta":{"content":"  Hi"}}]}`,
				`{"choices":[{"delta":{"content":"  there"}}]}`,
			)
			Expect(frags).To(Equal([]delta.Fragment{delta.Text("Hi"), delta.Text("  there")}))
		})

		It("ignores chunks without choices", func() {
			frags := run(`{"choices":[],"usage":{"prompt_tokens":3}}`)
			Expect(frags).To(BeEmpty())
		})
	})

	Context("with a function call", func() {
		It("aggregates into a valid function_call document", func() {
			frags := run(
				`{"choices":[{"delta":{"function_call":{"name":"f","arguments":""}}}]}`,
				`{"choices":[{"delta":{"function_call":{"arguments":"{\"a\":1"}}}]}`,
				`{"choices":[{"delta":{"function_call":{"arguments":"}"}}}]}`,
				`{"choices":[{"delta":{},"finish_reason":"function_call"}]}`,
			)
			for _, f := range frags {
				Expect(f.IsText()).To(BeFalse())
			}

			buf := joined(frags)
			Expect(buf).To(HavePrefix(delta.FunctionCallPrefix))

			var doc map[string]any
			Expect(json.Unmarshal([]byte(buf), &doc)).To(Succeed())
			Expect(doc).To(Equal(map[string]any{
				"function_call": map[string]any{"name": "f", "arguments": `{"a":1}`},
			}))
		})

		It("closes on finish reason stop", func() {
			frags := run(
				`{"choices":[{"delta":{"function_call":{"name":"g"}}}]}`,
				`{"choices":[{"delta":{"function_call":{"arguments":"{}"}}}]}`,
				`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			)
			Expect(json.Valid([]byte(joined(frags)))).To(BeTrue())
		})

		It("escapes arguments so any text stays a valid string literal", func() {
			args := "{\"path\":\"C:\\\\tmp\\n\",\"q\":\"tab\\tquote\\\"\"}"
			payload, err := json.Marshal(map[string]any{
				"choices": []any{map[string]any{"delta": map[string]any{
					"function_call": map[string]any{"arguments": args + "\u0001\f\r/"},
				}}},
			})
			Expect(err).NotTo(HaveOccurred())

			frags := run(
				`{"choices":[{"delta":{"function_call":{"name":"weird \"name\""}}}]}`,
				string(payload),
				`{"choices":[{"delta":{},"finish_reason":"function_call"}]}`,
			)

			var doc struct {
				FunctionCall struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function_call"`
			}
			Expect(json.Unmarshal([]byte(joined(frags)), &doc)).To(Succeed())
			Expect(doc.FunctionCall.Name).To(Equal(`weird "name"`))
			Expect(doc.FunctionCall.Arguments).To(Equal(args + "\u0001\f\r/"))
		})

		It("keeps arguments and the close batched with the name", func() {
			frags := run(
				`{"choices":[{"delta":{"function_call":{"name":"f","arguments":"{\"x\":true}"}},"finish_reason":"function_call"}]}`,
			)
			Expect(frags).To(HaveLen(1))
			Expect(joined(frags)).To(Equal(`{"function_call": {"name": "f", "arguments": "{\"x\":true}"}}`))
		})
	})

	Context("with tool calls", func() {
		It("builds one array from interleaved tool calls", func() {
			frags := run(
				`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"weather","arguments":""}}]}}]}`,
				`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
				`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]}}]}`,
				`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"time","arguments":""}}]}}]}`,
				`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"tz\":\"CET\"}"}}]}}]}`,
				`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			)

			buf := joined(frags)
			Expect(buf).To(HavePrefix(delta.ToolCallsPrefix))

			var doc struct {
				ToolCalls []struct {
					ID       string `json:"id"`
					Type     string `json:"type"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			}
			Expect(json.Unmarshal([]byte(buf), &doc)).To(Succeed())
			Expect(doc.ToolCalls).To(HaveLen(2))
			Expect(doc.ToolCalls[0].ID).To(Equal("call_a"))
			Expect(doc.ToolCalls[0].Type).To(Equal("function"))
			Expect(doc.ToolCalls[0].Function.Name).To(Equal("weather"))
			Expect(doc.ToolCalls[0].Function.Arguments).To(Equal(`{"city":"Paris"}`))
			Expect(doc.ToolCalls[1].ID).To(Equal("call_b"))
			Expect(doc.ToolCalls[1].Function.Name).To(Equal("time"))
			Expect(doc.ToolCalls[1].Function.Arguments).To(Equal(`{"tz":"CET"}`))
		})

		It("closes the array on finish reason stop", func() {
			frags := run(
				`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"weather","arguments":"{}"}}]}}]}`,
				`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			)
			Expect(joined(frags)).To(HaveSuffix(`"}}]}`))
			Expect(json.Valid([]byte(joined(frags)))).To(BeTrue())
		})
	})

	Context("with the state machine", func() {
		It("threads state explicitly", func() {
			open := &delta.Chunk{Choices: []delta.Choice{{Delta: delta.Delta{
				ToolCalls: []delta.ToolCallDelta{{ID: "a", Function: delta.FunctionCallDelta{Name: "f"}}},
			}}}}

			state, _, ok := delta.Classify(delta.State{}, open)
			Expect(ok).To(BeTrue())
			Expect(state).To(Equal(delta.State{Mode: delta.InToolCalls, ToolCalls: 1}))

			state, frag, ok := delta.Classify(state, open)
			Expect(ok).To(BeTrue())
			Expect(frag.Text).To(HavePrefix(`"}}, {"id": "a"`))
			Expect(state.ToolCalls).To(Equal(2))

			done := &delta.Chunk{Choices: []delta.Choice{{FinishReason: "tool_calls"}}}
			state, frag, ok = delta.Classify(state, done)
			Expect(ok).To(BeTrue())
			Expect(frag).To(Equal(delta.Structured(`"}}]}`)))
			Expect(state.Mode).To(Equal(delta.Idle))
		})

		It("does not close anything while idle", func() {
			done := &delta.Chunk{Choices: []delta.Choice{{FinishReason: "function_call"}}}
			state, _, ok := delta.Classify(delta.State{}, done)
			Expect(ok).To(BeFalse())
			Expect(state.Mode).To(Equal(delta.Idle))
		})

		It("names modes", func() {
			Expect(delta.Idle.String()).To(Equal("idle"))
			Expect(delta.InFunctionCall.String()).To(Equal("in_function_call"))
			Expect(delta.InToolCalls.String()).To(Equal("in_tool_calls"))
		})
	})
})
