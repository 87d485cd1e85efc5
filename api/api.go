package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/QuietCraftsmanship/AI/api/mcp"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
)

// Server is the API server for querying recorded rounds
type Server struct {
	config Config
	driver storage.Driver
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The driver is injected so it can be shared with the proxy.
func NewServer(config Config, driver storage.Driver) (*Server, error) {
	if driver == nil {
		return nil, errors.New("storage driver is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		driver: driver,
		logger: logger.OrNop(config.Logger),
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/rounds/stats", s.handleRoundStats)
	app.Get("/rounds", s.handleListRounds)
	app.Get("/rounds/:id", s.handleGetRound)

	if config.MCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Driver: driver,
			Logger: s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create mcp server: %w", err)
		}
		app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr, "mcp", s.config.MCP)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the API server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting API server", "listen", listener.Addr().String(), "mcp", s.config.MCP)
	return s.app.Listener(listener)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
