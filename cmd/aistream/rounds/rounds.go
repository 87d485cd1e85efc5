// Package roundscmder provides the rounds command for browsing rounds
// recorded by a running proxy.
package roundscmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/QuietCraftsmanship/AI/pkg/cliui"
	"github.com/QuietCraftsmanship/AI/pkg/config"
	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
	"github.com/QuietCraftsmanship/AI/pkg/utils"
)

const roundsLongDesc string = `List rounds recorded by the proxy, or show one round in full.

Without arguments the most recent rounds are listed, newest first. Given a
round id (the X-Request-Id the proxy returned), the round's messages are
printed, including any function and tool calls that were continued.

Examples:
  aistream rounds
  aistream rounds --provider anthropic --limit 5
  aistream rounds 3f0c9a52-7f1e-4b7e-9d55-2a4c0e6b1d2f`

const roundsShortDesc string = "Browse recorded rounds"

type roundsCommander struct {
	apiTarget string
	provider  string
	limit     int

	client *http.Client
}

func NewRoundsCmd() *cobra.Command {
	cmder := &roundsCommander{}

	cmd := &cobra.Command{
		Use:   "rounds [id]",
		Short: roundsShortDesc,
		Long:  roundsLongDesc,
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ClientFlags, []string{config.FlagAPITarget})
			cmder.apiTarget = strings.TrimRight(v.GetString("client.api_target"), "/")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.client = &http.Client{Timeout: 30 * time.Second}
			if len(args) == 1 {
				return cmder.show(cmd.Context(), cmd.OutOrStdout(), args[0])
			}
			return cmder.list(cmd.Context(), cmd.OutOrStdout())
		},
	}

	config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &cmder.apiTarget)
	cmd.Flags().StringVarP(&cmder.provider, "provider", "p", "", "Only list rounds from this provider")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 20, "Maximum number of rounds to list (0 for all)")

	return cmd
}

func (c *roundsCommander) list(ctx context.Context, w io.Writer) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.limit))
	if c.provider != "" {
		q.Set("provider", c.provider)
	}

	var body struct {
		Count  int               `json:"count"`
		Rounds []storage.Summary `json:"rounds"`
	}
	if err := c.get(ctx, "/rounds?"+q.Encode(), &body); err != nil {
		return err
	}

	if body.Count == 0 {
		fmt.Fprintf(w, "  %s No rounds recorded yet.\n", cliui.DimStyle.Render("●"))
		return nil
	}

	fmt.Fprintln(w)
	for _, r := range body.Rounds {
		fmt.Fprintf(w, "  %s %s %s %s\n",
			cliui.NameStyle.Render(r.ID),
			cliui.KeyStyle.Render(r.Provider+"/"+r.Model),
			cliui.DimStyle.Render(fmt.Sprintf("%d leg(s), %s", r.Legs, cliui.FormatDuration(time.Duration(r.DurationMs)*time.Millisecond))),
			cliui.PreviewStyle.Render(r.Preview),
		)
	}
	fmt.Fprintln(w)

	return nil
}

func (c *roundsCommander) show(ctx context.Context, w io.Writer, id string) error {
	var round storage.Round
	if err := c.get(ctx, "/rounds/"+url.PathEscape(id), &round); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n  %s  %s\n", cliui.KeyStyle.Render("Round:   "), cliui.NameStyle.Render(round.ID))
	fmt.Fprintf(w, "  %s  %s\n", cliui.KeyStyle.Render("Provider:"), cliui.ValueStyle.Render(round.Provider+"/"+round.Model))
	fmt.Fprintf(w, "  %s  %s\n\n", cliui.KeyStyle.Render("Legs:    "), cliui.ValueStyle.Render(strconv.Itoa(round.Legs)))

	for i, msg := range round.Messages {
		fmt.Fprintf(w, "  %s %s %s\n",
			cliui.DimStyle.Render(fmt.Sprintf("%d.", i+1)),
			cliui.RoleStyle.Render("["+msg.Role+"]"),
			cliui.PreviewStyle.Render(messagePreview(msg)),
		)
	}

	fmt.Fprintln(w)
	return nil
}

// messagePreview renders calls as name(args) since their content is empty.
func messagePreview(msg llm.Message) string {
	switch {
	case msg.FunctionCall != nil:
		return cliui.CallStyle.Render(msg.FunctionCall.Name + "(" + msg.FunctionCall.Arguments + ")")
	case len(msg.ToolCalls) > 0:
		calls := make([]string, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			calls[i] = tc.Function.Name + "(" + tc.Function.Arguments + ")"
		}
		return cliui.CallStyle.Render(strings.Join(calls, ", "))
	}
	return utils.Truncate(msg.Content, 72)
}

func (c *roundsCommander) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiTarget+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("querying api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr llm.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
