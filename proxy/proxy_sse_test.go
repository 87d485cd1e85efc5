package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/storage/inmemory"
	testutils "github.com/QuietCraftsmanship/AI/pkg/utils/test"
	"github.com/QuietCraftsmanship/AI/proxy/header"
)

var _ = Describe("Streaming Proxy", func() {
	var (
		p        *Proxy
		driver   *inmemory.Driver
		upstream *httptest.Server
	)

	AfterEach(func() {
		if p != nil {
			p.Close()
			p = nil
		}
		if upstream != nil {
			upstream.Close()
			upstream = nil
		}
	})

	send := func(req *http.Request) (*http.Response, string) {
		resp, err := p.server.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(body)
	}

	helloRequest := func() *http.Request {
		return chatRequest(makeOpenAIRequestBody("gpt-4", []openaiTestMsgEntry{
			{Role: "user", Content: "Say hello"},
		}, boolPtr(true)))
	}

	Context("when upstream returns an OpenAI SSE streaming response", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeSSE(w,
					textEvent("Hello"),
					textEvent(" world"),
					textEvent("!"),
					finishEvent("stop"),
					"[DONE]",
				)
			}))
		})

		It("streams plain text in simple mode", func() {
			p, _ = newTestProxy(Config{UpstreamURL: upstream.URL})

			resp, body := send(helloRequest())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(resp.Header.Get(header.StreamDataHeader)).To(BeEmpty())
			Expect(body).To(Equal("Hello world!"))
		})

		It("streams text frames when the client asks for the multiplexed protocol", func() {
			p, _ = newTestProxy(Config{UpstreamURL: upstream.URL})

			req := helloRequest()
			req.Header.Set(header.StreamProtocolHeader, header.ProtocolMultiplexed)

			resp, body := send(req)
			Expect(resp.Header.Get(header.StreamDataHeader)).To(Equal("true"))
			Expect(body).To(Equal("0:Hello\n0: world\n0:!\n"))
		})

		It("streams text frames when multiplexing is configured", func() {
			p, _ = newTestProxy(Config{UpstreamURL: upstream.URL, Multiplexed: true})

			_, body := send(helloRequest())
			Expect(body).To(Equal("0:Hello\n0: world\n0:!\n"))
		})

		It("records the round after streaming", func() {
			publisher := testutils.NewMockPublisher()
			p, driver = newTestProxy(Config{UpstreamURL: upstream.URL, Publisher: publisher})

			resp, _ := send(helloRequest())
			id := resp.Header.Get(header.RequestIDHeader)
			Expect(id).NotTo(BeEmpty())

			// Drain the worker pool to ensure async storage completes
			p.Close()
			p = nil

			round, err := driver.Get(GinkgoT().Context(), id)
			Expect(err).NotTo(HaveOccurred())
			Expect(round.Provider).To(Equal("openai"))
			Expect(round.Model).To(Equal("gpt-4"))
			Expect(round.Legs).To(Equal(1))
			Expect(round.Text).To(Equal("Hello world!"))
			Expect(round.Messages).To(HaveLen(2))
			Expect(round.Messages[0].Content).To(Equal("Say hello"))
			Expect(round.Messages[1]).To(Equal(llm.NewTextMessage(llm.RoleAssistant, "Hello world!")))
			Expect(round.CompletedAt).NotTo(BeTemporally("<", round.StartedAt))

			events := publisher.Events()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Round.ID).To(Equal(id))
			Expect(events[0].RequestMeta.Path).To(Equal("/v1/chat/completions"))
		})
	})

	Context("when upstream sends a function call", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeSSE(w,
					`{"choices":[{"delta":{"function_call":{"name":"get_weather","arguments":""}}}]}`,
					`{"choices":[{"delta":{"function_call":{"arguments":"{\"city\":"}}}]}`,
					`{"choices":[{"delta":{"function_call":{"arguments":"\"Paris\"}"}}}]}`,
					finishEvent("function_call"),
					"[DONE]",
				)
			}))
			p, _ = newTestProxy(Config{UpstreamURL: upstream.URL, Multiplexed: true})
		})

		It("relays the call as a function call frame", func() {
			_, body := send(helloRequest())
			Expect(body).To(Equal(`1:{"function_call":{"name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}` + "\n"))
		})
	})

	Context("when upstream returns an error status", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
			}))
			p, driver = newTestProxy(Config{UpstreamURL: upstream.URL, Multiplexed: true})
		})

		It("relays the status and body directly", func() {
			resp, body := send(helloRequest())
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(body).To(Equal(`{"error":{"message":"slow down"}}`))

			p.Close()
			p = nil
			rounds, err := driver.List(GinkgoT().Context())
			Expect(err).NotTo(HaveOccurred())
			Expect(rounds).To(BeEmpty())
		})
	})

	Context("when the upstream stream breaks after headers are sent", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeSSE(w, textEvent("Hi"), `{"choices":[`)
			}))
		})

		It("ends with an error frame in multiplexed mode", func() {
			p, driver = newTestProxy(Config{UpstreamURL: upstream.URL, Multiplexed: true})

			resp, body := send(helloRequest())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HavePrefix("0:Hi\n3:"))
			Expect(body).To(HaveSuffix("\n"))

			p.Close()
			p = nil
			rounds, err := driver.List(GinkgoT().Context())
			Expect(err).NotTo(HaveOccurred())
			Expect(rounds).To(BeEmpty())
		})

		It("ends the body without an error frame in simple mode", func() {
			p, _ = newTestProxy(Config{UpstreamURL: upstream.URL})

			_, body := send(helloRequest())
			Expect(body).To(Equal("Hi"))
		})
	})

	Context("with an Anthropic upstream", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				flusher, ok := w.(http.Flusher)
				Expect(ok).To(BeTrue())

				events := []string{
					"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-3\"}}\n\n",
					"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi there\"}}\n\n",
					"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n",
					"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
				}

				for _, event := range events {
					fmt.Fprint(w, event)
					flusher.Flush()
				}
			}))
			p, _ = newTestProxy(Config{UpstreamURL: upstream.URL, ProviderType: "anthropic"})
		})

		It("decodes the provider's deltas", func() {
			_, body := send(chatRequest(`{"model":"claude-3","stream":true,"messages":[{"role":"user","content":"Hi"}]}`))
			Expect(body).To(Equal("Hi there"))
		})
	})

	Context("when upstream SSE includes comment lines", func() {
		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				flusher, ok := w.(http.Flusher)
				Expect(ok).To(BeTrue())

				// Some providers send comment lines as keep-alives
				for _, event := range []string{
					": keep-alive\n\n",
					"data: {\"choices\":[{\"delta\":{\"content\":\"OK\"}}]}\n\n",
					"data: [DONE]\n\n",
				} {
					fmt.Fprint(w, event)
					flusher.Flush()
				}
			}))
			p, _ = newTestProxy(Config{UpstreamURL: upstream.URL})
		})

		It("skips them", func() {
			_, body := send(helloRequest())
			Expect(body).To(Equal("OK"))
		})
	})
})
