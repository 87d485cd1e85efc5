// Package stream turns a provider's streaming response into a client-facing
// byte stream.
//
// A Stream pulls provider payloads from a Source, classifies them with a
// delta.Parser, forwards text (plain or as protocol frames), and buffers
// function and tool calls until they complete. A completed call is handed to
// the matching handler in Callbacks, which may decline it, answer it with
// text, or continue the stream from a new Source. Continuations are relayed
// in place, so the consumer sees one uninterrupted stream.
//
// Stream is pull driven: nothing is read from the Source until the consumer
// calls Read, and hooks run on the reading goroutine.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/QuietCraftsmanship/AI/pkg/delta"
	"github.com/QuietCraftsmanship/AI/pkg/frame"
	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
)

// Stream is an io.ReadCloser over the transformed output of one or more
// provider responses.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config
	cb     Callbacks
	log    *slog.Logger

	// mu guards leg and closed, which Close reads from another goroutine.
	mu     sync.Mutex
	leg    *leg
	closed bool

	out      bytes.Buffer
	started  bool
	draining bool
	done     bool
	err      error

	messages []llm.Message
	legs     int

	closeOnce sync.Once
}

// leg is the pipeline state for one provider response.
type leg struct {
	src    Source
	parser delta.Parser

	first  bool
	inCall bool

	// text holds forwarded fragments, call the buffered call document and
	// completion every fragment the leg produced.
	text       strings.Builder
	call       strings.Builder
	completion strings.Builder

	once     sync.Once
	closeErr error
}

func (l *leg) close() error {
	l.once.Do(func() { l.closeErr = l.src.Close() })
	return l.closeErr
}

// New returns a Stream reading from src. The stream owns src and closes it.
// Canceling ctx aborts the stream and releases the active source.
func New(ctx context.Context, src Source, cb Callbacks, opts ...Option) *Stream {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.parser == nil {
		cfg.parser = func() delta.Parser { return delta.NewExtractor() }
	}

	log := logger.OrNop(cfg.logger)
	if cfg.data != nil && !cfg.multiplexed {
		log.Warn("stream data requires multiplexed mode, ignoring")
		cfg.data = nil
	}

	ctx, cancel := context.WithCancel(ctx)

	s := &Stream{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		cb:       cb,
		log:      log,
		messages: cfg.messages,
		legs:     1,
	}
	s.leg = s.newLeg(src)

	return s
}

func (s *Stream) newLeg(src Source) *leg {
	return &leg{
		src:    src,
		parser: s.cfg.parser(),
		first:  true,
	}
}

// Read implements io.Reader. It pulls from the active source only until
// output is available.
func (s *Stream) Read(p []byte) (int, error) {
	for s.out.Len() == 0 {
		if s.err != nil {
			return 0, s.err
		}
		if s.done {
			return 0, io.EOF
		}
		s.step()
	}

	return s.out.Read(p)
}

// Close aborts the stream and releases the active source. It is safe to
// call concurrently with Read and more than once; the source is closed
// exactly once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		l := s.leg
		s.mu.Unlock()

		s.cancel()
		if l != nil {
			err = l.close()
		}
	})
	return err
}

// Messages returns the conversation as extended by call handlers. It is
// meant to be read once Read has returned io.EOF.
func (s *Stream) Messages() []llm.Message {
	return llm.Clone(s.messages)
}

// Legs returns the number of provider responses the stream has consumed.
func (s *Stream) Legs() int {
	return s.legs
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) current() *leg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leg
}

func (s *Stream) step() {
	if s.isClosed() {
		s.fail(ErrClosed)
		return
	}

	if !s.started {
		s.started = true
		if s.cb.OnStart != nil {
			s.logHookError("on_start", s.cb.OnStart(s.ctx))
		}
	}

	if err := s.ctx.Err(); err != nil {
		s.fail(err)
		return
	}

	if s.draining {
		s.drain()
		return
	}

	l := s.current()
	payload, err := l.src.Next(s.ctx)
	if errors.Is(err, io.EOF) {
		s.endLeg(l)
		return
	}
	if err != nil {
		switch {
		case s.isClosed():
			err = ErrClosed
		case s.ctx.Err() != nil:
			err = s.ctx.Err()
		}
		s.fail(err)
		return
	}

	frag, ok, err := l.parser.Parse(payload)
	if err != nil {
		s.fail(err)
		return
	}
	if ok {
		s.consume(l, frag)
	}
}

func (s *Stream) consume(l *leg, frag delta.Fragment) {
	s.hook("on_token", s.cb.OnToken, frag.Text)
	l.completion.WriteString(frag.Text)

	if l.first {
		l.first = false
		l.inCall = strings.HasPrefix(frag.Text, delta.FunctionCallPrefix) ||
			strings.HasPrefix(frag.Text, delta.ToolCallsPrefix)
	}

	if l.inCall {
		l.call.WriteString(frag.Text)
		return
	}

	s.writeData()
	s.writeText(frag.Text)
	l.text.WriteString(frag.Text)

	if frag.IsText() {
		s.hook("on_text", s.cb.OnText, frag.Text)
	}
}

func (s *Stream) endLeg(l *leg) {
	if err := l.close(); err != nil {
		s.log.Debug("closing exhausted source", "error", err)
	}

	s.hook("on_completion", s.cb.OnCompletion, l.completion.String())

	if !l.inCall {
		s.finish(l.text.String())
		return
	}

	payload := l.call.String()
	c, err := parseCall(payload)
	if err != nil {
		s.fail(&MalformedFragmentError{Buffer: payload, Err: err})
		return
	}

	handled := (c.tool && s.cb.ToolCalls != nil) || (!c.tool && s.cb.FunctionCall != nil)
	if handled {
		if err := c.checkArguments(); err != nil {
			s.fail(&MalformedFragmentError{Buffer: payload, Err: err})
			return
		}
	}

	var (
		res  Result
		cont *Continuation
	)
	if c.tool {
		cont = newToolContinuation(s.messages, c.tools)
		if s.cb.ToolCalls != nil {
			res = s.invoke("tool_calls", func() (Result, error) {
				return s.cb.ToolCalls(s.ctx, c.tools, cont)
			})
		}
	} else {
		cont = newFunctionContinuation(s.messages, c.function)
		if s.cb.FunctionCall != nil {
			res = s.invoke("function_call", func() (Result, error) {
				return s.cb.FunctionCall(s.ctx, c.function, cont)
			})
		}
	}

	switch res.kind {
	case resultText:
		s.writeData()
		s.writeText(res.text)
		s.finish(res.text)

	case resultContinue:
		s.messages = cont.messages
		s.startLeg(res.source)

	default:
		s.writeData()
		if err := s.writeCall(c.tool, payload); err != nil {
			s.fail(err)
			return
		}
		s.finish(payload)
	}
}

// invoke runs a call handler, downgrading errors and panics to Decline.
func (s *Stream) invoke(kind string, fn func() (Result, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.handlerFailed(&HandlerError{Kind: kind, Err: fmt.Errorf("panic: %v", r)})
			res = Decline()
		}
	}()

	var err error
	res, err = fn()
	if err != nil {
		if res.source != nil {
			_ = res.source.Close()
		}
		s.handlerFailed(&HandlerError{Kind: kind, Err: err})
		return Decline()
	}

	return res
}

func (s *Stream) handlerFailed(err *HandlerError) {
	s.log.Warn("call handler failed, emitting call unhandled",
		"kind", err.Kind,
		"error", err.Err,
	)
}

func (s *Stream) startLeg(src Source) {
	if err := s.ctx.Err(); err != nil {
		_ = src.Close()
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = src.Close()
		s.fail(ErrClosed)
		return
	}
	s.leg = s.newLeg(src)
	s.legs++
	s.mu.Unlock()

	s.log.Debug("continuing stream", "leg", s.legs, "messages", len(s.messages))
}

// finish ends the last leg: OnFinal fires and pending data is drained.
func (s *Stream) finish(final string) {
	s.hook("on_final", s.cb.OnFinal, final)
	s.draining = true
}

func (s *Stream) drain() {
	if s.writeData() {
		return
	}

	if d := s.cfg.data; d != nil {
		select {
		case <-d.Done():
		case <-s.ctx.Done():
			s.fail(s.ctx.Err())
			return
		}
		s.writeData()
	}

	s.done = true
}

func (s *Stream) fail(err error) {
	s.err = err

	if l := s.current(); l != nil {
		_ = l.close()
	}
}

func (s *Stream) writeText(text string) {
	if s.cfg.multiplexed {
		s.out.Write(frame.EncodeText(text))
		return
	}
	s.out.WriteString(text)
}

func (s *Stream) writeCall(tool bool, payload string) error {
	if !s.cfg.multiplexed {
		s.out.WriteString(payload)
		return nil
	}

	kind := frame.FunctionCall
	if tool {
		kind = frame.ToolCalls
	}

	line, err := frame.Encode(kind, json.RawMessage(payload))
	if err != nil {
		return err
	}
	s.out.Write(line)
	return nil
}

// writeData emits pending side channel values as one data frame and reports
// whether it wrote anything.
func (s *Stream) writeData() bool {
	if s.cfg.data == nil {
		return false
	}

	items := s.cfg.data.drain()
	if len(items) == 0 {
		return false
	}

	line, err := frame.Encode(frame.Data, items)
	if err != nil {
		s.log.Warn("dropping stream data", "error", err)
		return false
	}
	s.out.Write(line)
	return true
}

func (s *Stream) hook(name string, fn func(context.Context, string) error, arg string) {
	if fn == nil {
		return
	}
	s.logHookError(name, fn(s.ctx, arg))
}

func (s *Stream) logHookError(name string, err error) {
	if err != nil {
		s.log.Warn("stream hook failed", "hook", name, "error", err)
	}
}

type parsedCall struct {
	tool     bool
	function FunctionCall
	tools    []ToolCall
}

// parseCall decodes a completed call document. Arguments are kept as the
// model produced them; checkArguments validates them.
func parseCall(payload string) (parsedCall, error) {
	if strings.HasPrefix(payload, delta.ToolCallsPrefix) {
		var doc struct {
			ToolCalls []llm.ToolCall `json:"tool_calls"`
		}
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			return parsedCall{}, err
		}

		calls := make([]ToolCall, len(doc.ToolCalls))
		for i, tc := range doc.ToolCalls {
			calls[i] = ToolCall{
				ID:       tc.ID,
				Type:     tc.Type,
				Function: FunctionCall{Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)},
			}
		}
		return parsedCall{tool: true, tools: calls}, nil
	}

	var doc struct {
		FunctionCall *llm.FunctionCall `json:"function_call"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return parsedCall{}, err
	}
	if doc.FunctionCall == nil {
		return parsedCall{}, errors.New("missing function_call object")
	}

	return parsedCall{function: FunctionCall{
		Name:      doc.FunctionCall.Name,
		Arguments: json.RawMessage(doc.FunctionCall.Arguments),
	}}, nil
}

// checkArguments validates every call's arguments before a handler sees
// them. Empty arguments become {}.
func (c *parsedCall) checkArguments() error {
	if !c.tool {
		args, err := arguments(c.function.Name, string(c.function.Arguments))
		if err != nil {
			return err
		}
		c.function.Arguments = args
		return nil
	}

	for i := range c.tools {
		args, err := arguments(c.tools[i].Function.Name, string(c.tools[i].Function.Arguments))
		if err != nil {
			return err
		}
		c.tools[i].Function.Arguments = args
	}
	return nil
}

func arguments(name, raw string) (json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("invalid arguments for %q", name)
	}
	return json.RawMessage(raw), nil
}
