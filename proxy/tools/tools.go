// Package tools executes model tool calls against a Model Context Protocol
// server and feeds the results back into the stream as a continuation.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/pkg/stream"
	"github.com/QuietCraftsmanship/AI/pkg/utils"
)

// Config configures Connect.
type Config struct {
	// Endpoint is the streamable HTTP URL of the MCP server.
	Endpoint string

	// HTTPClient overrides the client used by the transport.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Next requests the follow-up model response for the updated conversation.
type Next func(ctx context.Context, msgs []llm.Message) (stream.Source, error)

// Observer is told about every executed call. err is the call failure, if
// any.
type Observer func(ctx context.Context, call stream.ToolCall, err error)

// ToolError is an MCP tool result flagged as an error.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// Executor runs tool calls through an MCP client session.
type Executor struct {
	session *mcp.ClientSession
	logger  *slog.Logger
}

// Connect opens an MCP client session over streamable HTTP.
func Connect(ctx context.Context, c Config) (*Executor, error) {
	if c.Endpoint == "" {
		return nil, errors.New("mcp endpoint is required")
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "aistream",
		Version: utils.Version,
	}, nil)

	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   c.Endpoint,
		HTTPClient: c.HTTPClient,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to mcp server %s: %w", c.Endpoint, err)
	}

	return NewExecutor(session, c.Logger), nil
}

// NewExecutor wraps an established session.
func NewExecutor(session *mcp.ClientSession, l *slog.Logger) *Executor {
	if l == nil {
		l = logger.Nop()
	}
	return &Executor{session: session, logger: l}
}

// Tools lists the server's tools as chat-completions tool definitions.
func (e *Executor) Tools(ctx context.Context) ([]openai.Tool, error) {
	var (
		out    []openai.Tool
		cursor string
	)
	for {
		res, err := e.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("listing tools: %w", err)
		}

		for _, t := range res.Tools {
			out = append(out, definition(t))
		}

		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}

func definition(t *mcp.Tool) openai.Tool {
	var params any = map[string]any{"type": "object"}
	if t.InputSchema != nil {
		if b, err := json.Marshal(t.InputSchema); err == nil && string(b) != "null" {
			params = json.RawMessage(b)
		}
	}

	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}
}

// Call runs the named tool and returns its text content joined by
// newlines.
func (e *Executor) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("decoding arguments for %s: %w", name, err)
		}
	}

	e.logger.Debug("calling tool",
		"tool", name,
		"arguments", utils.Truncate(string(args), 200),
	)

	res, err := e.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return "", fmt.Errorf("calling tool %s: %w", name, err)
	}

	text := joinText(res.Content)
	if res.IsError {
		return "", &ToolError{Tool: name, Message: text}
	}
	return text, nil
}

func joinText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Handler returns a tool call handler that executes every call, records
// the results and continues with the response returned by next. A failed
// call contributes its error text as the result. observe may be nil.
func (e *Executor) Handler(next Next, observe Observer) stream.ToolCallHandler {
	return func(ctx context.Context, calls []stream.ToolCall, c *stream.Continuation) (stream.Result, error) {
		var msgs []llm.Message
		for _, call := range calls {
			text, err := e.Call(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				e.logger.Warn("tool call failed", "tool", call.Function.Name, "tool_call_id", call.ID, "error", err)
				text = err.Error()
			}
			if observe != nil {
				observe(ctx, call, err)
			}

			msgs, err = c.AppendToolResult(call.ID, call.Function.Name, resultValue(text))
			if err != nil {
				return stream.Decline(), err
			}
		}

		return e.continueWith(ctx, next, msgs)
	}
}

// FunctionHandler is Handler for single legacy function calls.
func (e *Executor) FunctionHandler(next Next, observe Observer) stream.FunctionCallHandler {
	return func(ctx context.Context, call stream.FunctionCall, c *stream.Continuation) (stream.Result, error) {
		text, err := e.Call(ctx, call.Name, call.Arguments)
		if err != nil {
			e.logger.Warn("function call failed", "function", call.Name, "error", err)
			text = err.Error()
		}
		if observe != nil {
			observe(ctx, stream.ToolCall{Type: "function", Function: call}, err)
		}

		msgs, err := c.AppendFunctionResult(resultValue(text))
		if err != nil {
			return stream.Decline(), err
		}

		return e.continueWith(ctx, next, msgs)
	}
}

func (e *Executor) continueWith(ctx context.Context, next Next, msgs []llm.Message) (stream.Result, error) {
	src, err := next(ctx, msgs)
	if err != nil {
		return stream.Decline(), fmt.Errorf("requesting continuation: %w", err)
	}
	return stream.Continue(src), nil
}

// resultValue keeps JSON tool output as-is and encodes anything else as a
// JSON string.
func resultValue(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return text
}

// Close ends the MCP session.
func (e *Executor) Close() error {
	return e.session.Close()
}
