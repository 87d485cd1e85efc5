package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/QuietCraftsmanship/AI/pkg/sse"
)

// maxErrorBody bounds how much of an upstream error body is read.
const maxErrorBody = 64 * 1024

// Source yields provider event payloads, one per call to Next.
//
// Next returns io.EOF once the source is exhausted. Close releases the
// underlying connection and may be called while a Next call is blocked;
// the blocked call then returns an error.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// NewSSESource returns a Source reading Server-Sent Events from body. It
// stops at the provider's completion sentinel.
func NewSSESource(body io.ReadCloser) Source {
	return &sseSource{
		body:    body,
		decoder: sse.NewDecoder(body),
	}
}

type sseSource struct {
	body    io.ReadCloser
	decoder *sse.Decoder
	once    sync.Once
	err     error
}

func (s *sseSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.decoder.Next()
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *sseSource) Close() error {
	s.once.Do(func() { s.err = s.body.Close() })
	return s.err
}

// NewNDJSONSource returns a Source reading one JSON document per line, as
// streamed by Ollama.
func NewNDJSONSource(body io.ReadCloser) Source {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &ndjsonSource{body: body, scanner: scanner}
}

type ndjsonSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
	err     error
}

func (s *ndjsonSource) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		return []byte(strings.ToValidUTF8(line, "\uFFFD")), nil
	}
}

func (s *ndjsonSource) Close() error {
	s.once.Do(func() { s.err = s.body.Close() })
	return s.err
}

// NewHTTPSource returns a Source for a streaming model response.
//
// A non-2xx response yields a single *UpstreamError carrying the response
// body. An application/x-ndjson body is read line by line; anything else is
// read as Server-Sent Events.
func NewHTTPSource(resp *http.Response) Source {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &upstreamErrorSource{resp: resp}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/x-ndjson" {
		return NewNDJSONSource(resp.Body)
	}

	return NewSSESource(resp.Body)
}

type upstreamErrorSource struct {
	resp *http.Response
	once sync.Once
	err  error
	sent bool
}

func (s *upstreamErrorSource) Next(_ context.Context) ([]byte, error) {
	if s.sent {
		return nil, io.EOF
	}
	s.sent = true

	var body []byte
	if s.resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(s.resp.Body, maxErrorBody))
	}
	_ = s.Close()

	return nil, &UpstreamError{
		StatusCode: s.resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func (s *upstreamErrorSource) Close() error {
	s.once.Do(func() {
		if s.resp.Body != nil {
			s.err = s.resp.Body.Close()
		}
	})
	return s.err
}

// FromSeq returns a Source pulling payloads from seq. Close stops the
// sequence; it waits for an in-flight Next to return first.
func FromSeq(seq iter.Seq2[[]byte, error]) Source {
	next, stop := iter.Pull2(seq)
	return &seqSource{next: next, stop: stop}
}

type seqSource struct {
	mu   sync.Mutex
	next func() ([]byte, error, bool)
	stop func()
	done bool
}

func (s *seqSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}

	v, err, ok := s.next()
	if !ok {
		s.done = true
		return nil, io.EOF
	}
	return v, err
}

func (s *seqSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = true
	s.stop()
	return nil
}

// OpenAIStream is the receiving side of a go-openai chat completion stream.
// *openai.ChatCompletionStream implements it.
type OpenAIStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// FromOpenAI adapts a go-openai chat completion stream into a Source. Each
// received response is re-encoded in the chat-completion chunk shape.
func FromOpenAI(s OpenAIStream) Source {
	return &openAISource{stream: s}
}

type openAISource struct {
	stream OpenAIStream
	once   sync.Once
	err    error
}

func (s *openAISource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &UpstreamError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, err
	}

	return json.Marshal(resp)
}

func (s *openAISource) Close() error {
	s.once.Do(func() { s.err = s.stream.Close() })
	return s.err
}
