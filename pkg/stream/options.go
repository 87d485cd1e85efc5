package stream

import (
	"log/slog"

	"github.com/QuietCraftsmanship/AI/pkg/delta"
	"github.com/QuietCraftsmanship/AI/pkg/llm"
)

type config struct {
	multiplexed bool
	data        *Data
	parser      delta.Factory
	messages    []llm.Message
	logger      *slog.Logger
}

// Option configures a Stream.
type Option func(*config)

// WithMultiplexed selects the multiplexed frame protocol. By default the
// stream emits plain text.
func WithMultiplexed(multiplexed bool) Option {
	return func(c *config) {
		c.multiplexed = multiplexed
	}
}

// WithData interleaves values appended to d as data frames. It only applies
// in multiplexed mode.
func WithData(d *Data) Option {
	return func(c *config) {
		c.data = d
	}
}

// WithParser sets the parser factory used for every leg. Defaults to the
// OpenAI-compatible extractor.
func WithParser(f delta.Factory) Option {
	return func(c *config) {
		c.parser = f
	}
}

// WithMessages seeds the conversation handed to call handlers.
func WithMessages(msgs []llm.Message) Option {
	return func(c *config) {
		c.messages = llm.Clone(msgs)
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
