package storage_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/QuietCraftsmanship/AI/pkg/storage"
	testutils "github.com/QuietCraftsmanship/AI/pkg/utils/test"
)

var _ = Describe("Summarize", func() {
	var rounds []*storage.Round

	BeforeEach(func() {
		rounds = []*storage.Round{
			testutils.NewTestRound("a", 0),
			testutils.NewTestRound("b", time.Minute),
			testutils.NewTestRound("c", 2*time.Minute),
		}
		rounds[1].Provider = "anthropic"
	})

	ids := func(s []storage.Summary) []string {
		out := make([]string, len(s))
		for i, x := range s {
			out[i] = x.ID
		}
		return out
	}

	It("returns newest first", func() {
		Expect(ids(storage.Summarize(rounds, "", 0))).To(Equal([]string{"c", "b", "a"}))
	})

	It("filters by provider case-insensitively", func() {
		Expect(ids(storage.Summarize(rounds, "Anthropic", 0))).To(Equal([]string{"b"}))
	})

	It("applies the limit after filtering", func() {
		Expect(ids(storage.Summarize(rounds, "test-provider", 1))).To(Equal([]string{"c"}))
	})

	It("returns an empty slice for no rounds", func() {
		Expect(storage.Summarize(nil, "", 0)).To(BeEmpty())
	})
})

var _ = Describe("Round.Summary", func() {
	It("reports counts and duration", func() {
		s := testutils.NewTestRound("x", 0).Summary()
		Expect(s.ID).To(Equal("x"))
		Expect(s.Messages).To(Equal(1))
		Expect(s.DurationMs).To(Equal(int64(1000)))
		Expect(s.Preview).To(Equal("answer x"))
	})

	It("collapses whitespace and truncates the preview", func() {
		r := testutils.NewTestRound("x", 0)
		r.Text = "line one\n\nline   two " + strings.Repeat("y", 100)

		s := r.Summary()
		Expect(s.Preview).To(HavePrefix("line one line two y"))
		Expect(s.Preview).To(HaveSuffix("..."))
		Expect(len(s.Preview)).To(Equal(83))
	})
})
