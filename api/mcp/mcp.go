// Package mcp provides a read-only MCP (Model Context Protocol) server over
// recorded rounds.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
	"github.com/QuietCraftsmanship/AI/pkg/utils"
)

const (
	listRoundsToolName    = "list_rounds"
	listRoundsDescription = "List recorded aistream rounds, newest first. Each entry has the round id, provider, model, number of upstream legs and a preview of the final text."

	getRoundToolName    = "get_round"
	getRoundDescription = "Get one recorded aistream round by id, including the full message history with any function and tool calls."
)

type Config struct {
	// Driver is the round store the tools read from
	Driver storage.Driver

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// ListRoundsInput represents the input arguments for the list_rounds tool.
type ListRoundsInput struct {
	Provider string `json:"provider,omitempty" jsonschema:"only list rounds from this provider"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of rounds to return"`
}

// ListRoundsOutput is the structured output of list_rounds.
type ListRoundsOutput struct {
	Rounds []storage.Summary `json:"rounds"`
}

// GetRoundInput represents the input arguments for the get_round tool.
type GetRoundInput struct {
	ID string `json:"id" jsonschema:"the round id, as returned by list_rounds or the X-Request-Id header"`
}

// NewServer creates a new MCP server with the round tools.
func NewServer(c Config) (*Server, error) {
	if c.Driver == nil {
		return nil, errors.New("storage driver is required")
	}
	c.Logger = logger.OrNop(c.Logger)

	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "aistream",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        listRoundsToolName,
		Description: listRoundsDescription,
	}, s.handleListRounds)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        getRoundToolName,
		Description: getRoundDescription,
	}, s.handleGetRound)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server, for in-process transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

func (s *Server) handleListRounds(ctx context.Context, _ *mcp.CallToolRequest, input ListRoundsInput) (*mcp.CallToolResult, ListRoundsOutput, error) {
	if input.Limit < 0 {
		return errorResult("limit must not be negative"), ListRoundsOutput{}, nil
	}

	rounds, err := s.config.Driver.List(ctx)
	if err != nil {
		s.config.Logger.Error("failed to list rounds", "error", err)
		return errorResult(fmt.Sprintf("Listing rounds failed: %v", err)), ListRoundsOutput{}, nil
	}

	output := ListRoundsOutput{Rounds: storage.Summarize(rounds, input.Provider, input.Limit)}
	return jsonResult(output), output, nil
}

func (s *Server) handleGetRound(ctx context.Context, _ *mcp.CallToolRequest, input GetRoundInput) (*mcp.CallToolResult, any, error) {
	if input.ID == "" {
		return errorResult("id is required"), nil, nil
	}

	round, err := s.config.Driver.Get(ctx, input.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult("round not found: " + input.ID), nil, nil
	}
	if err != nil {
		s.config.Logger.Error("failed to get round", "id", input.ID, "error", err)
		return errorResult(fmt.Sprintf("Getting round failed: %v", err)), nil, nil
	}

	return jsonResult(round), nil, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}
}
