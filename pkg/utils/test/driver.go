package testutils

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
)

// DescribeDriver declares the behavior every storage.Driver shares. Call it
// from inside a Describe container.
func DescribeDriver(newDriver func() storage.Driver) {
	var (
		driver storage.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
	})

	AfterEach(func() {
		Expect(driver.Close()).To(Succeed())
	})

	It("round-trips a round", func() {
		round := NewTestRound("r1", 0)
		round.Legs = 2
		round.Messages = append(round.Messages,
			llm.Message{
				Role:      llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{ID: "call_a", Type: "function", Function: llm.FunctionCall{Name: "f", Arguments: "{}"}}},
			},
			llm.Message{Role: llm.RoleTool, ToolCallID: "call_a", Name: "f", Content: `"ok"`},
		)
		Expect(driver.Put(ctx, round)).To(Succeed())

		got, err := driver.Get(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal("r1"))
		Expect(got.Provider).To(Equal(round.Provider))
		Expect(got.Model).To(Equal(round.Model))
		Expect(got.Legs).To(Equal(2))
		Expect(got.Text).To(Equal(round.Text))
		Expect(got.Messages).To(Equal(round.Messages))
		Expect(got.StartedAt).To(BeTemporally("==", round.StartedAt))
		Expect(got.CompletedAt).To(BeTemporally("==", round.CompletedAt))
	})

	It("returns ErrNotFound for unknown ids", func() {
		_, err := driver.Get(ctx, "missing")
		Expect(err).To(MatchError(storage.ErrNotFound))
		Expect(err.Error()).To(ContainSubstring("missing"))
	})

	It("replaces a round with the same id", func() {
		Expect(driver.Put(ctx, NewTestRound("r1", 0))).To(Succeed())

		updated := NewTestRound("r1", 0)
		updated.Text = "revised"
		Expect(driver.Put(ctx, updated)).To(Succeed())

		got, err := driver.Get(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Text).To(Equal("revised"))

		all, err := driver.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
	})

	It("lists rounds oldest first", func() {
		Expect(driver.Put(ctx, NewTestRound("late", 2*time.Minute))).To(Succeed())
		Expect(driver.Put(ctx, NewTestRound("early", 0))).To(Succeed())
		Expect(driver.Put(ctx, NewTestRound("middle", time.Minute))).To(Succeed())

		all, err := driver.List(ctx)
		Expect(err).NotTo(HaveOccurred())

		ids := make([]string, len(all))
		for i, r := range all {
			ids[i] = r.ID
		}
		Expect(ids).To(Equal([]string{"early", "middle", "late"}))
	})

	It("lists nothing when empty", func() {
		all, err := driver.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(BeEmpty())
	})

	It("rejects invalid rounds", func() {
		Expect(driver.Put(ctx, nil)).To(MatchError(storage.ErrNilRound))
		Expect(driver.Put(ctx, &storage.Round{})).To(MatchError(storage.ErrMissingID))
	})

	It("does not alias stored rounds", func() {
		round := NewTestRound("r1", 0)
		Expect(driver.Put(ctx, round)).To(Succeed())
		round.Messages[0].Content = "changed"

		got, err := driver.Get(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Messages[0].Content).To(Equal("question r1"))
	})
}
