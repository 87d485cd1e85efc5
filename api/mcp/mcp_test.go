package mcp_test

import (
	"encoding/json"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/QuietCraftsmanship/AI/api/mcp"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
	"github.com/QuietCraftsmanship/AI/pkg/storage/inmemory"
	testutils "github.com/QuietCraftsmanship/AI/pkg/utils/test"
)

var _ = Describe("MCP Server", func() {
	var (
		server  *mcp.Server
		driver  *inmemory.Driver
		session *sdkmcp.ClientSession
	)

	BeforeEach(func() {
		ctx := GinkgoT().Context()
		driver = inmemory.NewDriver()

		var err error
		server, err = mcp.NewServer(mcp.Config{
			Driver: driver,
			Logger: logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
		_, err = server.MCPServer().Connect(ctx, serverTransport, nil)
		Expect(err).NotTo(HaveOccurred())

		client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
		session, err = client.Connect(ctx, clientTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(session.Close)
	})

	call := func(name string, args map[string]any) *sdkmcp.CallToolResult {
		res, err := session.CallTool(GinkgoT().Context(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Content).NotTo(BeEmpty())
		return res
	}

	text := func(res *sdkmcp.CallToolResult) string {
		tc, ok := res.Content[0].(*sdkmcp.TextContent)
		Expect(ok).To(BeTrue())
		return tc.Text
	}

	Describe("NewServer", func() {
		It("returns an error when storage driver is nil", func() {
			_, err := mcp.NewServer(mcp.Config{})
			Expect(err).To(MatchError(ContainSubstring("storage driver is required")))
		})

		It("returns an HTTP handler", func() {
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	It("advertises both tools", func() {
		res, err := session.ListTools(GinkgoT().Context(), nil)
		Expect(err).NotTo(HaveOccurred())

		var names []string
		for _, t := range res.Tools {
			names = append(names, t.Name)
		}
		Expect(names).To(ConsistOf("list_rounds", "get_round"))
	})

	Describe("list_rounds", func() {
		BeforeEach(func() {
			ctx := GinkgoT().Context()
			Expect(driver.Put(ctx, testutils.NewTestRound("r1", 0))).To(Succeed())
			Expect(driver.Put(ctx, testutils.NewTestRound("r2", time.Minute))).To(Succeed())
		})

		It("lists newest first", func() {
			res := call("list_rounds", map[string]any{})
			Expect(res.IsError).To(BeFalse())

			var out mcp.ListRoundsOutput
			Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
			Expect(out.Rounds).To(HaveLen(2))
			Expect(out.Rounds[0].ID).To(Equal("r2"))
			Expect(out.Rounds[0].Preview).To(Equal("answer r2"))
		})

		It("honours the limit", func() {
			var out mcp.ListRoundsOutput
			Expect(json.Unmarshal([]byte(text(call("list_rounds", map[string]any{"limit": 1}))), &out)).To(Succeed())
			Expect(out.Rounds).To(HaveLen(1))
		})

		It("rejects a negative limit", func() {
			res := call("list_rounds", map[string]any{"limit": -1})
			Expect(res.IsError).To(BeTrue())
		})
	})

	Describe("get_round", func() {
		It("returns the full round", func() {
			Expect(driver.Put(GinkgoT().Context(), testutils.NewTestRound("r1", 0))).To(Succeed())

			res := call("get_round", map[string]any{"id": "r1"})
			Expect(res.IsError).To(BeFalse())

			var round storage.Round
			Expect(json.Unmarshal([]byte(text(res)), &round)).To(Succeed())
			Expect(round.ID).To(Equal("r1"))
			Expect(round.Messages).To(HaveLen(1))
		})

		It("reports a missing round as a tool error", func() {
			res := call("get_round", map[string]any{"id": "nope"})
			Expect(res.IsError).To(BeTrue())
			Expect(text(res)).To(ContainSubstring("round not found"))
		})

		It("requires an id", func() {
			res := call("get_round", map[string]any{"id": ""})
			Expect(res.IsError).To(BeTrue())
		})
	})
})
