package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/QuietCraftsmanship/AI/pkg/eventstream"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
	"github.com/QuietCraftsmanship/AI/pkg/storage/inmemory"
	testutils "github.com/QuietCraftsmanship/AI/pkg/utils/test"
	"github.com/QuietCraftsmanship/AI/proxy/worker"
)

// failingDriver rejects every Put.
type failingDriver struct {
	*inmemory.Driver
}

func (failingDriver) Put(context.Context, *storage.Round) error {
	return errors.New("disk full")
}

var _ = Describe("Worker Pool", func() {
	var (
		driver    *inmemory.Driver
		publisher *testutils.MockPublisher
		ctx       context.Context
	)

	BeforeEach(func() {
		driver = inmemory.NewDriver()
		publisher = testutils.NewMockPublisher()
		ctx = context.Background()
	})

	newPool := func(c *worker.Config) *worker.Pool {
		wp, err := worker.NewPool(c)
		Expect(err).NotTo(HaveOccurred())
		return wp
	}

	It("persists then publishes every round", func() {
		wp := newPool(&worker.Config{Driver: driver, Publisher: publisher})

		for i := range 5 {
			Expect(wp.Enqueue(worker.Job{
				Round: testutils.NewTestRound(fmt.Sprintf("r%d", i), 0),
				Meta:  eventstream.RequestMeta{Path: "/v1/chat/completions", Multiplexed: true},
			})).To(BeTrue())
		}
		wp.Close()

		rounds, err := driver.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(rounds).To(HaveLen(5))

		events := publisher.Events()
		Expect(events).To(HaveLen(5))
		for _, e := range events {
			Expect(e.RequestMeta.Multiplexed).To(BeTrue())
			_, err := driver.Get(ctx, e.Round.ID)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("does not publish rounds that failed to persist", func() {
		wp := newPool(&worker.Config{Driver: failingDriver{driver}, Publisher: publisher})
		Expect(wp.Enqueue(worker.Job{Round: testutils.NewTestRound("r1", 0)})).To(BeTrue())
		wp.Close()

		Expect(publisher.Events()).To(BeEmpty())
	})

	It("keeps stored rounds when publishing fails", func() {
		publisher.Err = errors.New("broker down")
		wp := newPool(&worker.Config{Driver: driver, Publisher: publisher})
		Expect(wp.Enqueue(worker.Job{Round: testutils.NewTestRound("r1", 0)})).To(BeTrue())
		wp.Close()

		_, err := driver.Get(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
	})

	It("drops jobs when the queue is full", func() {
		block := make(chan struct{})
		blocking := &blockingDriver{Driver: driver, block: block, started: make(chan struct{})}
		wp := newPool(&worker.Config{Driver: blocking, NumWorkers: 1, QueueSize: 1})

		// The single worker picks up the first job and blocks, the second
		// fills the queue.
		Expect(wp.Enqueue(worker.Job{Round: testutils.NewTestRound("r1", 0)})).To(BeTrue())
		Eventually(blocking.started).Should(BeClosed())
		Expect(wp.Enqueue(worker.Job{Round: testutils.NewTestRound("r2", 0)})).To(BeTrue())
		Expect(wp.Enqueue(worker.Job{Round: testutils.NewTestRound("r3", 0)})).To(BeFalse())

		close(block)
		wp.Close()

		rounds, err := driver.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(rounds).To(HaveLen(2))
	})

	It("rejects jobs after close", func() {
		wp := newPool(&worker.Config{Driver: driver})
		wp.Close()
		wp.Close()
		Expect(wp.Enqueue(worker.Job{Round: testutils.NewTestRound("r1", 0)})).To(BeFalse())
	})

	It("rejects nil rounds", func() {
		wp := newPool(&worker.Config{Driver: driver})
		defer wp.Close()
		Expect(wp.Enqueue(worker.Job{})).To(BeFalse())
	})

	It("requires a driver", func() {
		_, err := worker.NewPool(&worker.Config{})
		Expect(err).To(HaveOccurred())
	})
})

// blockingDriver holds every Put until block is closed.
type blockingDriver struct {
	*inmemory.Driver
	block   chan struct{}
	once    sync.Once
	started chan struct{}
}

func (b *blockingDriver) Put(ctx context.Context, r *storage.Round) error {
	b.once.Do(func() { close(b.started) })
	<-b.block
	return b.Driver.Put(ctx, r)
}
