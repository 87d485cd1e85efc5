package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/QuietCraftsmanship/AI/pkg/storage/inmemory"
	"github.com/QuietCraftsmanship/AI/proxy/header"
	"github.com/QuietCraftsmanship/AI/proxy/tools"
)

type weatherInput struct {
	City string `json:"city" jsonschema:"the city to look up"`
}

// newTestExecutor connects an executor to an in-memory MCP server exposing
// a weather tool.
func newTestExecutor(ctx context.Context) *tools.Executor {
	server := mcp.NewServer(&mcp.Implementation{Name: "test-tools", Version: "v0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_weather",
		Description: "Returns the weather for a city",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in weatherInput) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("sunny in %s", in.City)}},
		}, nil, nil
	})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, serverTransport, nil)
	Expect(err).NotTo(HaveOccurred())

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	Expect(err).NotTo(HaveOccurred())

	return tools.NewExecutor(session, nil)
}

var _ = Describe("Tool execution", func() {
	var (
		p        *Proxy
		driver   *inmemory.Driver
		upstream *httptest.Server
		executor *tools.Executor

		mu       sync.Mutex
		requests []string
	)

	BeforeEach(func() {
		requests = nil
		executor = newTestExecutor(GinkgoT().Context())

		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)

			mu.Lock()
			requests = append(requests, string(b))
			n := len(requests)
			mu.Unlock()

			if n == 1 {
				writeSSE(w,
					toolCallEvent("call_1", "get_weather", `{"city":"Paris"}`),
					finishEvent("tool_calls"),
					"[DONE]",
				)
				return
			}
			writeSSE(w, textEvent("It is sunny in Paris."), finishEvent("stop"), "[DONE]")
		}))
	})

	AfterEach(func() {
		if p != nil {
			p.Close()
			p = nil
		}
		upstream.Close()
		Expect(executor.Close()).To(Succeed())
	})

	send := func(req *http.Request) (*http.Response, string) {
		resp, err := p.server.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(body)
	}

	weatherRequest := func() *http.Request {
		return chatRequest(makeOpenAIRequestBody("gpt-4", []openaiTestMsgEntry{
			{Role: "user", Content: "What is the weather in Paris?"},
		}, boolPtr(true)))
	}

	It("is rejected for providers without chat-completions messages", func() {
		_, err := New(Config{
			UpstreamURL:  upstream.URL,
			ProviderType: "ollama",
			Tools:        executor,
		}, inmemory.NewDriver(), nil)
		Expect(err).To(MatchError(ContainSubstring("not supported")))
	})

	It("advertises the MCP tools to the model", func() {
		p, _ = newTestProxy(Config{UpstreamURL: upstream.URL, Tools: executor})
		send(weatherRequest())

		mu.Lock()
		defer mu.Unlock()
		Expect(requests).NotTo(BeEmpty())
		Expect(gjson.Get(requests[0], "tools.#").Int()).To(BeEquivalentTo(1))
		Expect(gjson.Get(requests[0], "tools.0.type").String()).To(Equal("function"))
		Expect(gjson.Get(requests[0], "tools.0.function.name").String()).To(Equal("get_weather"))
	})

	It("leaves client-provided tools alone", func() {
		p, _ = newTestProxy(Config{UpstreamURL: upstream.URL, Tools: executor})
		send(chatRequest(`{"model":"gpt-4","stream":true,"tools":[],"messages":[{"role":"user","content":"Hi"}]}`))

		mu.Lock()
		defer mu.Unlock()
		Expect(gjson.Get(requests[0], "tools").Raw).To(Equal("[]"))
	})

	It("executes the call and continues with the follow-up response", func() {
		p, driver = newTestProxy(Config{UpstreamURL: upstream.URL, Tools: executor})

		resp, body := send(weatherRequest())
		Expect(body).To(Equal("It is sunny in Paris."))

		mu.Lock()
		Expect(requests).To(HaveLen(2))
		followUp := requests[1]
		mu.Unlock()

		Expect(gjson.Get(followUp, "messages.#").Int()).To(BeEquivalentTo(3))
		Expect(gjson.Get(followUp, "messages.1.role").String()).To(Equal("assistant"))
		Expect(gjson.Get(followUp, "messages.1.tool_calls.0.id").String()).To(Equal("call_1"))
		Expect(gjson.Get(followUp, "messages.2.role").String()).To(Equal("tool"))
		Expect(gjson.Get(followUp, "messages.2.tool_call_id").String()).To(Equal("call_1"))
		Expect(gjson.Get(followUp, "messages.2.content").String()).To(Equal(`"sunny in Paris"`))
		Expect(gjson.Get(followUp, "stream").Bool()).To(BeTrue())

		p.Close()
		p = nil

		round, err := driver.Get(GinkgoT().Context(), resp.Header.Get(header.RequestIDHeader))
		Expect(err).NotTo(HaveOccurred())
		Expect(round.Legs).To(Equal(2))
		Expect(round.Text).To(Equal("It is sunny in Paris."))
		Expect(round.Messages).To(HaveLen(4))
	})

	It("replays content part arrays untouched in the follow-up request", func() {
		p, _ = newTestProxy(Config{UpstreamURL: upstream.URL, Tools: executor})

		_, body := send(chatRequest(`{"model":"gpt-4","stream":true,"messages":[` +
			`{"role":"user","content":[{"type":"text","text":"What is the weather in Paris?"},` +
			`{"type":"image_url","image_url":{"url":"https://example.com/paris.png"}}]}]}`))
		Expect(body).To(Equal("It is sunny in Paris."))

		mu.Lock()
		Expect(requests).To(HaveLen(2))
		followUp := requests[1]
		mu.Unlock()

		Expect(gjson.Get(followUp, "messages.#").Int()).To(BeEquivalentTo(3))
		Expect(gjson.Get(followUp, "messages.0.content").Raw).To(MatchJSON(
			`[{"type":"text","text":"What is the weather in Paris?"},` +
				`{"type":"image_url","image_url":{"url":"https://example.com/paris.png"}}]`,
		))
		Expect(gjson.Get(followUp, "messages.1.tool_calls.0.id").String()).To(Equal("call_1"))
		Expect(gjson.Get(followUp, "messages.2.role").String()).To(Equal("tool"))
	})

	It("declines the continuation when the request messages cannot be decoded", func() {
		p, _ = newTestProxy(Config{UpstreamURL: upstream.URL, Tools: executor})

		_, body := send(chatRequest(`{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":42}]}`))
		Expect(gjson.Get(body, "tool_calls.0.id").String()).To(Equal("call_1"))
		Expect(gjson.Get(body, "tool_calls.0.function.name").String()).To(Equal("get_weather"))

		mu.Lock()
		defer mu.Unlock()
		Expect(requests).To(HaveLen(1))
	})

	It("reports executed calls as data frames in multiplexed mode", func() {
		p, _ = newTestProxy(Config{UpstreamURL: upstream.URL, Tools: executor, Multiplexed: true})

		_, body := send(weatherRequest())
		Expect(body).To(Equal(
			`2:[{"tool":"get_weather","tool_call_id":"call_1"}]` + "\n" +
				"0:It is sunny in Paris.\n",
		))
	})
})
