package frame_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/QuietCraftsmanship/AI/pkg/frame"
)

var _ = Describe("Encode", func() {
	It("writes text verbatim", func() {
		line, err := frame.Encode(frame.Text, "done")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(line)).To(Equal("0:done\n"))
	})

	It("quotes text containing a newline", func() {
		line, err := frame.Encode(frame.Text, "a\nb")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(line)).To(Equal("0:\"a\\nb\"\n"))
	})

	It("quotes text that starts with a double quote", func() {
		line, err := frame.Encode(frame.Text, `"hi"`)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(line)).To(Equal("0:\"\\\"hi\\\"\"\n"))
	})

	It("rejects non-string text values", func() {
		_, err := frame.Encode(frame.Text, 42)
		Expect(err).To(MatchError(frame.ErrTextNotString))
	})

	It("serializes structured values as JSON", func() {
		line, err := frame.Encode(frame.Data, []any{map[string]any{"a": 1}})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(line)).To(Equal(`2:[{"a":1}]` + "\n"))
	})

	It("does not HTML-escape structured values", func() {
		line, err := frame.Encode(frame.Error, "<b>&</b>")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(line)).To(Equal(`3:"<b>&</b>"` + "\n"))
	})

	It("compacts raw JSON", func() {
		raw := json.RawMessage("{\n  \"function_call\": {\"name\": \"f\"}\n}")
		line, err := frame.Encode(frame.FunctionCall, raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(line)).To(Equal(`1:{"function_call":{"name":"f"}}` + "\n"))
	})

	It("rejects invalid raw JSON", func() {
		_, err := frame.Encode(frame.ToolCalls, json.RawMessage(`{"tool_calls":`))
		Expect(err).To(HaveOccurred())
	})

	It("uses prefix 7 for tool calls", func() {
		line, err := frame.Encode(frame.ToolCalls, map[string]any{"tool_calls": []any{}})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(line)).To(HavePrefix("7:"))
	})

	It("rejects unknown kinds", func() {
		_, err := frame.Encode(frame.Kind(99), "x")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Decode", func() {
	It("decodes a text line", func() {
		f, ok := frame.Decode("0:hello world\n")
		Expect(ok).To(BeTrue())
		Expect(f.Kind).To(Equal(frame.Text))
		Expect(f.Text()).To(Equal("hello world"))
	})

	It("keeps text that looks quoted but is not a JSON string", func() {
		f, ok := frame.Decode(`0:"unterminated`)
		Expect(ok).To(BeTrue())
		Expect(f.Text()).To(Equal(`"unterminated`))
	})

	It("decodes a function call line", func() {
		f, ok := frame.Decode(`1:{"function_call":{"name":"f","arguments":"{}"}}`)
		Expect(ok).To(BeTrue())
		Expect(f.Kind).To(Equal(frame.FunctionCall))

		var payload struct {
			FunctionCall struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function_call"`
		}
		Expect(f.Unmarshal(&payload)).To(Succeed())
		Expect(payload.FunctionCall.Name).To(Equal("f"))
		Expect(payload.FunctionCall.Arguments).To(Equal("{}"))
	})

	It("drops lines without a known prefix", func() {
		for _, line := range []string{"", "x", "9:nope", "hello", ":0", "0"} {
			_, ok := frame.Decode(line)
			Expect(ok).To(BeFalse(), "line %q", line)
		}
	})

	It("drops structured lines with invalid JSON", func() {
		_, ok := frame.Decode(`2:[{"a":`)
		Expect(ok).To(BeFalse())
	})

	DescribeTable("round trips values",
		func(kind frame.Kind, value any) {
			line, err := frame.Encode(kind, value)
			Expect(err).NotTo(HaveOccurred())

			f, ok := frame.Decode(string(line))
			Expect(ok).To(BeTrue())
			Expect(f.Kind).To(Equal(kind))
			Expect(f.Value).To(Equal(value))
		},
		Entry("plain text", frame.Text, "hello"),
		Entry("empty text", frame.Text, ""),
		Entry("text with leading whitespace", frame.Text, "  indented"),
		Entry("text with a newline", frame.Text, "line one\nline two"),
		Entry("quoted text", frame.Text, `"quoted"`),
		Entry("unicode text", frame.Text, "héllo, 世界 🌍"),
		Entry("data array", frame.Data, []any{map[string]any{"k": "v"}, float64(2)}),
		Entry("function call", frame.FunctionCall, map[string]any{
			"function_call": map[string]any{"name": "f", "arguments": `{"a":1}`},
		}),
		Entry("tool calls", frame.ToolCalls, map[string]any{
			"tool_calls": []any{map[string]any{"id": "call_1", "type": "function"}},
		}),
		Entry("error", frame.Error, "upstream failed"),
	)
})

var _ = Describe("Kind", func() {
	It("names every kind", func() {
		Expect(frame.Text.String()).To(Equal("text"))
		Expect(frame.FunctionCall.String()).To(Equal("function_call"))
		Expect(frame.Data.String()).To(Equal("data"))
		Expect(frame.Error.String()).To(Equal("error"))
		Expect(frame.ToolCalls.String()).To(Equal("tool_calls"))
	})

	It("exposes wire prefixes", func() {
		Expect(frame.Text.Prefix()).To(Equal(byte('0')))
		Expect(frame.FunctionCall.Prefix()).To(Equal(byte('1')))
		Expect(frame.Data.Prefix()).To(Equal(byte('2')))
	})
})
