package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
)

// RoundStats aggregates over every stored round.
type RoundStats struct {
	TotalRounds int            `json:"total_rounds"`
	TotalLegs   int            `json:"total_legs"`
	ToolRounds  int            `json:"tool_rounds"`
	ByProvider  map[string]int `json:"by_provider"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleRoundStats returns totals over all rounds. A round with more than
// one leg had at least one call continued.
func (s *Server) handleRoundStats(c *fiber.Ctx) error {
	rounds, err := s.driver.List(c.Context())
	if err != nil {
		s.logger.Error("failed to list rounds", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list rounds"})
	}

	stats := RoundStats{ByProvider: map[string]int{}}
	for _, r := range rounds {
		stats.TotalRounds++
		stats.TotalLegs += r.Legs
		if r.Legs > 1 {
			stats.ToolRounds++
		}
		stats.ByProvider[r.Provider]++
	}

	return c.JSON(stats)
}

// handleListRounds returns round summaries, newest first.
// Query parameters: provider filters by provider, limit caps the count.
func (s *Server) handleListRounds(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "limit must be a non-negative integer"})
		}
		limit = n
	}

	rounds, err := s.driver.List(c.Context())
	if err != nil {
		s.logger.Error("failed to list rounds", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list rounds"})
	}

	summaries := storage.Summarize(rounds, c.Query("provider"), limit)

	return c.JSON(map[string]any{
		"count":  len(summaries),
		"rounds": summaries,
	})
}

// handleGetRound returns a single round with its full message history.
func (s *Server) handleGetRound(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "id parameter required"})
	}

	round, err := s.driver.Get(c.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "round not found"})
	}
	if err != nil {
		s.logger.Error("failed to get round", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to get round"})
	}

	return c.JSON(round)
}
