// Package worker provides an asynchronous worker pool for persisting completed
// rounds with the provided storage.Driver and publishing them to the provided
// eventstream.Publisher.
//
// The pool decouples storage operations from the proxy's HTTP hot path so that
// the client-proxy-upstream interaction is fully transparent.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/QuietCraftsmanship/AI/pkg/eventstream"
	"github.com/QuietCraftsmanship/AI/pkg/eventstream/nop"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Round *storage.Round
	Meta  eventstream.RequestMeta
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Driver is the storage backend for persisting rounds.
	Driver storage.Driver

	// Publisher receives an event for every persisted round. Defaults to a
	// no-op publisher.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	Logger *slog.Logger
}

// Pool processes round jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Driver == nil {
		return nil, errors.New("worker pool requires a storage driver")
	}

	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: logger.OrNop(c.Logger),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is
// closed, resulting in the job being dropped.
func (p *Pool) Enqueue(job Job) bool {
	if job.Round == nil {
		p.logger.Warn("job not queued, nil round")
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job not queued, pool closed", "round_id", job.Round.ID)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			"round_id", job.Round.ID,
			"provider", job.Round.Provider,
			"model", job.Round.Model,
		)
		return true
	default:
		p.logger.Warn("job not queued, queue full, job dropped",
			"round_id", job.Round.ID,
			"provider", job.Round.Provider,
			"model", job.Round.Model,
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the proxy HTTP server has stopped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

// processJob persists the round and then publishes it. A round that fails to
// persist is not published.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	if err := p.config.Driver.Put(ctx, job.Round); err != nil {
		p.logger.Error("round storage failed",
			"round_id", job.Round.ID,
			"provider", job.Round.Provider,
			"error", err,
		)
		return
	}

	p.logger.Info("round stored",
		"round_id", job.Round.ID,
		"provider", job.Round.Provider,
		"legs", job.Round.Legs,
	)

	event := eventstream.NewRoundCompletedEvent(job.Round, job.Meta, time.Now())
	if err := p.config.Publisher.PublishRound(ctx, event); err != nil {
		p.logger.Warn("round event publish failed",
			"round_id", job.Round.ID,
			"event_id", event.EventID,
			"error", err,
		)
	}
}
