// Package api provides an HTTP API server for inspecting recorded stream rounds.
package api

import "log/slog"

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// MCP mounts a read-only MCP server over the same rounds at /mcp.
	MCP bool

	Logger *slog.Logger
}
