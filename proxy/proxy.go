// Package proxy provides an LLM inference proxy that relays streamed model
// responses to clients through the stream pipeline and records each round.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/QuietCraftsmanship/AI/pkg/delta"
	"github.com/QuietCraftsmanship/AI/pkg/eventstream"
	"github.com/QuietCraftsmanship/AI/pkg/frame"
	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
	"github.com/QuietCraftsmanship/AI/pkg/stream"
	"github.com/QuietCraftsmanship/AI/pkg/utils"
	"github.com/QuietCraftsmanship/AI/proxy/header"
	"github.com/QuietCraftsmanship/AI/proxy/tools"
	"github.com/QuietCraftsmanship/AI/proxy/worker"
)

const (
	providerOpenAI = "openai"
	providerAzure  = "azure"
	providerOllama = "ollama"

	toolListTimeout = 30 * time.Second
)

// Proxy is a client, LLM inference proxy. Streaming chat requests are
// decoded into text and call frames for the client; tool calls are executed
// and continued when a tool executor is configured. Completed rounds are
// enqueued for async storage via its worker pool.
type Proxy struct {
	config        Config
	driver        storage.Driver
	workerPool    *worker.Pool
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	parser        delta.Factory
	headerHandler *header.Handler

	// toolDefs is the JSON tools array advertised to the model, or nil.
	toolDefs []byte
}

// New creates a new Proxy.
// Returns an error if the configured provider type is not recognized.
func New(config Config, driver storage.Driver, l *slog.Logger) (*Proxy, error) {
	if config.ProviderType == "" {
		return nil, errors.New("provider type is required")
	}
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream url is required")
	}

	parser, err := delta.ForProvider(config.ProviderType)
	if err != nil {
		return nil, fmt.Errorf("could not create parser: %w", err)
	}

	l = logger.OrNop(l)

	var toolDefs []byte
	if config.Tools != nil {
		if !chatCompletions(config.ProviderType) {
			return nil, fmt.Errorf("tool execution is not supported for provider %s", config.ProviderType)
		}
		toolDefs, err = listTools(config.Tools)
		if err != nil {
			return nil, err
		}
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	// Add compression middleware to handle responses
	app.Use(compress.New())

	wp, err := worker.NewPool(&worker.Config{
		Driver:    driver,
		Publisher: config.Publisher,
		Logger:    l,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			// LLM requests can be slow, especially with thinking blocks
			Timeout: 5 * time.Minute,
		}
	}

	p := &Proxy{
		config:        config,
		driver:        driver,
		workerPool:    wp,
		logger:        l,
		server:        app,
		parser:        parser,
		headerHandler: header.NewHandler(),
		httpClient:    httpClient,
		toolDefs:      toolDefs,
	}

	// Register transparent proxy route - forwards any path to upstream
	app.All("/*", p.handleProxy)

	return p, nil
}

func chatCompletions(provider string) bool {
	switch strings.ToLower(provider) {
	case providerOpenAI, providerAzure:
		return true
	}
	return false
}

func listTools(executor *tools.Executor) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), toolListTimeout)
	defer cancel()

	defs, err := executor.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list tools: %w", err)
	}
	if len(defs) == 0 {
		return nil, nil
	}

	b, err := json.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("could not encode tools: %w", err)
	}
	return b, nil
}

// Run starts the proxy server on the given listening address
func (p *Proxy) Run() error {
	p.logger.Info("starting proxy server",
		"listen", p.config.ListenAddr,
		"upstream", p.config.UpstreamURL,
		"provider", p.config.ProviderType,
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the proxy server using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logger.Info("starting proxy server",
		"listen", listener.Addr().String(),
		"upstream", p.config.UpstreamURL,
		"provider", p.config.ProviderType,
	)

	return p.server.Listener(listener)
}

// Close gracefully shuts down the proxy and waits for the worker pool to drain
func (p *Proxy) Close() error {
	err := p.server.Shutdown()
	p.workerPool.Close()
	return err
}

// handleProxy is a transparent proxy handler that forwards requests to
// upstream. Streaming chat requests go through the stream pipeline.
func (p *Proxy) handleProxy(c *fiber.Ctx) error {
	startTime := time.Now()
	requestID := uuid.NewString()
	c.Set(header.RequestIDHeader, requestID)

	path := c.Path()
	method := c.Method()

	// fasthttp reuses the request buffer once the handler returns, and the
	// stream keeps using the body for continuation requests.
	body := bytes.Clone(c.Body())
	isChatRequest := method == fiber.MethodPost && len(body) > 0

	if isChatRequest && p.streaming(body) {
		return p.handleStreamingProxy(c, path, requestID, body, startTime)
	}

	return p.handleNonStreamingProxy(c, path, method, body)
}

// streaming checks the request's stream field, falling back to the
// provider's default. Ollama streams when "stream" is omitted.
func (p *Proxy) streaming(body []byte) bool {
	res := gjson.GetBytes(body, "stream")
	if res.Exists() {
		return res.Bool()
	}
	return strings.EqualFold(p.config.ProviderType, providerOllama)
}

// handleNonStreamingProxy handles non-streaming requests.
func (p *Proxy) handleNonStreamingProxy(c *fiber.Ctx, path, method string, body []byte) error {
	upstreamURL := p.config.UpstreamURL + path

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(c.Context(), method, upstreamURL, reqBody)
	if err != nil {
		p.logger.Error("failed to create upstream request", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
	}

	p.headerHandler.SetUpstreamRequestHeaders(c, httpReq)

	p.logger.Debug("forwarding request to upstream",
		"method", method,
		"url", upstreamURL,
	)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Error("upstream request failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		p.logger.Error("failed to read upstream response", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "failed to read upstream response"})
	}

	p.headerHandler.SetClientResponseHeaders(c, httpResp)
	return c.Status(httpResp.StatusCode).Send(respBody)
}

// round is the per-request state of a streamed exchange.
type round struct {
	id          string
	path        string
	model       string
	body        []byte
	headers     http.Header
	multiplexed bool
	startTime   time.Time
	data        *stream.Data

	// messages is the number of messages the client sent; continuations
	// append after them. messagesErr is set when they could not be decoded.
	messages    int
	messagesErr error
}

// handleStreamingProxy handles streaming requests.
func (p *Proxy) handleStreamingProxy(c *fiber.Ctx, path, requestID string, body []byte, startTime time.Time) error {
	r := &round{
		id:          requestID,
		path:        path,
		model:       gjson.GetBytes(body, "model").String(),
		body:        p.withTools(body),
		headers:     make(http.Header),
		multiplexed: p.config.Multiplexed || p.headerHandler.WantsMultiplexed(c),
		startTime:   startTime,
	}

	// The fiber context is recycled after the handler returns, so headers
	// are captured for continuation requests.
	p.headerHandler.SetUpstreamRequestHeaders(c, &http.Request{Header: r.headers})

	// Use context.Background() instead of c.Context() because fasthttp recycles
	// its RequestCtx after the handler returns, but the stream is read
	// asynchronously in a separate goroutine and needs the upstream connection
	// to remain open.
	ctx, cancel := context.WithCancel(context.Background())

	httpResp, err := p.upstream(ctx, r, r.body)
	if err != nil {
		cancel()
		p.logger.Error("upstream request failed", "request_id", requestID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		cancel()
		p.logger.Error("upstream returned error",
			"request_id", requestID,
			"status", httpResp.StatusCode,
			"body", utils.Truncate(string(respBody), 512),
		)
		p.headerHandler.SetClientResponseHeaders(c, httpResp)
		return c.Status(httpResp.StatusCode).Send(respBody)
	}

	p.headerHandler.SetStreamHeaders(c, r.multiplexed)
	s := p.newStream(ctx, r, httpResp)

	// SetBodyStreamWriter only flushes into fasthttp's internal buffered pipe,
	// so chunks would pile up in memory. With io.Pipe, pw.Write blocks until
	// fasthttp's chunked writer consumes the data and flushes it to the socket,
	// which paces stream reads (and upstream reads) to the client.
	pr, pw := io.Pipe()
	go p.pipeStream(s, pw, r, cancel)

	// Set the pipe reader as the body stream with unknown size (-1),
	// which triggers chunked transfer encoding in fasthttp.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// withTools advertises the executor's tools when the request carries none.
func (p *Proxy) withTools(body []byte) []byte {
	if p.toolDefs == nil || gjson.GetBytes(body, "tools").Exists() {
		return body
	}

	out, err := sjson.SetRawBytes(body, "tools", p.toolDefs)
	if err != nil {
		p.logger.Warn("failed to inject tools", "error", err)
		return body
	}
	return out
}

func (p *Proxy) upstream(ctx context.Context, r *round, body []byte) (*http.Response, error) {
	upstreamURL := p.config.UpstreamURL + r.path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header = r.headers.Clone()

	p.logger.Debug("forwarding streaming request to upstream",
		"request_id", r.id,
		"url", upstreamURL,
	)

	return p.httpClient.Do(httpReq)
}

func (p *Proxy) newStream(ctx context.Context, r *round, httpResp *http.Response) *stream.Stream {
	var msgs []llm.Message
	if raw := gjson.GetBytes(r.body, "messages"); raw.IsArray() {
		if err := json.Unmarshal([]byte(raw.Raw), &msgs); err != nil {
			p.logger.Warn("failed to parse request messages", "request_id", r.id, "error", err)
			r.messagesErr = err
			msgs = nil
		}
		r.messages = len(msgs)
	}

	opts := []stream.Option{
		stream.WithMultiplexed(r.multiplexed),
		stream.WithParser(p.parser),
		stream.WithMessages(msgs),
		stream.WithLogger(p.logger.With("request_id", r.id)),
	}
	if r.multiplexed && p.config.Tools != nil {
		r.data = stream.NewData()
		opts = append(opts, stream.WithData(r.data))
	}

	var s *stream.Stream
	cb := stream.Callbacks{
		OnFinal: func(_ context.Context, text string) error {
			if r.data != nil {
				_ = r.data.Close()
			}
			p.enqueueRound(r, s, text)
			return nil
		},
	}

	if p.config.Tools != nil {
		next := func(ctx context.Context, msgs []llm.Message) (stream.Source, error) {
			return p.continuation(ctx, r, msgs)
		}
		observe := func(_ context.Context, call stream.ToolCall, _ error) {
			if r.data == nil {
				return
			}
			if err := r.data.Append(map[string]string{
				"tool":         call.Function.Name,
				"tool_call_id": call.ID,
			}); err != nil {
				p.logger.Warn("failed to append stream data", "request_id", r.id, "error", err)
			}
		}
		cb.ToolCalls = p.config.Tools.Handler(next, observe)
		cb.FunctionCall = p.config.Tools.FunctionHandler(next, observe)
	}

	s = stream.New(ctx, stream.NewHTTPSource(httpResp), cb, opts...)
	return s
}

// continuation re-requests upstream with the messages added since the
// client's request appended to its original, untouched messages.
func (p *Proxy) continuation(ctx context.Context, r *round, msgs []llm.Message) (stream.Source, error) {
	if r.messagesErr != nil {
		return nil, fmt.Errorf("request messages could not be decoded: %w", r.messagesErr)
	}
	if len(msgs) < r.messages {
		return nil, fmt.Errorf("continuation lost request messages: have %d, sent %d", len(msgs), r.messages)
	}

	body := r.body
	if !gjson.GetBytes(body, "messages").IsArray() {
		var err error
		if body, err = sjson.SetRawBytes(body, "messages", []byte("[]")); err != nil {
			return nil, fmt.Errorf("rewriting request messages: %w", err)
		}
	}
	for _, msg := range msgs[r.messages:] {
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encoding continuation message: %w", err)
		}
		body, err = sjson.SetRawBytes(body, "messages.-1", raw)
		if err != nil {
			return nil, fmt.Errorf("appending continuation message: %w", err)
		}
	}

	httpResp, err := p.upstream(ctx, r, body)
	if err != nil {
		return nil, fmt.Errorf("continuation request failed: %w", err)
	}

	p.logger.Debug("continuing stream",
		"request_id", r.id,
		"message_count", len(msgs),
		"status", httpResp.StatusCode,
	)

	return stream.NewHTTPSource(httpResp), nil
}

// pipeStream copies the stream to the client. An error after the headers
// are sent becomes an error frame in multiplexed mode.
func (p *Proxy) pipeStream(s *stream.Stream, pw *io.PipeWriter, r *round, cancel context.CancelFunc) {
	defer cancel()
	defer s.Close()
	defer pw.Close()

	_, err := io.Copy(pw, s)
	if err == nil {
		p.logger.Debug("streaming complete",
			"request_id", r.id,
			"legs", s.Legs(),
			"duration", time.Since(r.startTime),
		)
		return
	}

	if errors.Is(err, io.ErrClosedPipe) {
		p.logger.Debug("client disconnected", "request_id", r.id)
		return
	}

	p.logger.Error("stream failed", "request_id", r.id, "legs", s.Legs(), "error", err)

	if !r.multiplexed {
		return
	}
	b, encErr := frame.Encode(frame.Error, err.Error())
	if encErr != nil {
		p.logger.Error("failed to encode error frame", "request_id", r.id, "error", encErr)
		return
	}
	if _, werr := pw.Write(b); werr != nil {
		p.logger.Debug("failed to write error frame", "request_id", r.id, "error", werr)
	}
}

// enqueueRound records the finished round for async storage.
func (p *Proxy) enqueueRound(r *round, s *stream.Stream, text string) {
	msgs := append(s.Messages(), llm.NewTextMessage(llm.RoleAssistant, text))
	completedAt := time.Now()

	p.logger.Debug("round complete",
		"request_id", r.id,
		"model", r.model,
		"legs", s.Legs(),
		"content_preview", utils.Truncate(text, 100),
	)

	p.workerPool.Enqueue(worker.Job{
		Round: &storage.Round{
			ID:          r.id,
			Provider:    p.config.ProviderType,
			Model:       r.model,
			Legs:        s.Legs(),
			Text:        text,
			Messages:    msgs,
			StartedAt:   r.startTime.UTC(),
			CompletedAt: completedAt.UTC(),
		},
		Meta: eventstream.RequestMeta{
			Path:        r.path,
			DurationMs:  completedAt.Sub(r.startTime).Milliseconds(),
			Multiplexed: r.multiplexed,
		},
	})
}
