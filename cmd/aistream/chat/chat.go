// Package chatcmder provides the chat command for interactive LLM chat
// through the aistream proxy.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/QuietCraftsmanship/AI/pkg/cliui"
	"github.com/QuietCraftsmanship/AI/pkg/config"
	"github.com/QuietCraftsmanship/AI/pkg/frame"
	"github.com/QuietCraftsmanship/AI/pkg/llm"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/proxy/header"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

type chatCommander struct {
	proxyTarget string
	model       string
	debug       bool

	out    io.Writer
	errOut io.Writer
	render bool

	client *http.Client
	logger *slog.Logger
}

const chatLongDesc string = `Start an interactive chat session through the aistream proxy.

Messages are sent in the chat-completions format with the multiplexed stream
protocol, so tool calls, data and errors reported by the proxy are shown
alongside the model's text. On a terminal the reply is rendered as markdown
once it completes.

Examples:
  aistream chat --model gpt-4o-mini
  aistream chat --model gpt-4o-mini --proxy http://localhost:8080`

const chatShortDesc string = "Interactive LLM chat through the aistream proxy"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ClientFlags, []string{config.FlagProxyTarget})
			cmder.proxyTarget = strings.TrimRight(v.GetString("client.proxy_target"), "/")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.ClientFlags, config.FlagProxyTarget, &cmder.proxyTarget)
	cmd.Flags().StringVarP(&cmder.model, "model", "m", "gpt-4o-mini", "Model name")

	return cmd
}

func (c *chatCommander) run(cmd *cobra.Command) error {
	c.out = cmd.OutOrStdout()
	c.errOut = cmd.ErrOrStderr()
	c.render = isTerminal(c.out)
	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
		logger.WithWriter(c.errOut),
	)
	c.client = &http.Client{
		// LLM responses can be slow
		Timeout: 5 * time.Minute,
	}

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  %s %s\n",
		cliui.KeyStyle.Render("Model:"),
		cliui.NameStyle.Render(c.model),
	)
	fmt.Fprintf(c.out, "  %s %s\n\n",
		cliui.KeyStyle.Render("Proxy:"),
		cliui.ValueStyle.Render(c.proxyTarget),
	)
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	var messages []llm.Message
	scanner := bufio.NewScanner(cmd.InOrStdin())

	for {
		fmt.Fprint(c.out, userPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		messages = append(messages, llm.NewTextMessage(llm.RoleUser, input))

		content, err := c.sendAndStream(cmd.Context(), messages)
		if err != nil {
			fmt.Fprintf(c.errOut, "\n  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(err.Error()))
			// Drop the failed user message so it can be retried
			messages = messages[:len(messages)-1]
			continue
		}

		messages = append(messages, llm.NewTextMessage(llm.RoleAssistant, content))

		fmt.Fprintln(c.out)
		fmt.Fprintln(c.out)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

// sendAndStream posts the conversation to the proxy and writes the reply as
// frames arrive. It returns the full assistant text.
func (c *chatCommander) sendAndStream(ctx context.Context, messages []llm.Message) (string, error) {
	stream := true
	body, err := json.Marshal(llm.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending chat request",
		"proxy_target", c.proxyTarget,
		"model", c.model,
		"message_count", len(messages),
	)

	url := c.proxyTarget + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(header.StreamProtocolHeader, header.ProtocolMultiplexed)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request to proxy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("proxy returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	c.logger.Debug("streaming response", "request_id", resp.Header.Get(header.RequestIDHeader))

	fmt.Fprint(c.out, assistantPrompt)

	var content strings.Builder
	frames := frame.DecodeMultiplexed(resp.Body)

	for {
		f, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return content.String(), fmt.Errorf("reading stream: %w", err)
		}

		switch f.Kind {
		case frame.Text:
			content.WriteString(f.Text())
			if !c.render {
				fmt.Fprint(c.out, f.Text())
			}

		case frame.Data:
			var items []json.RawMessage
			if err := f.Unmarshal(&items); err != nil {
				c.logger.Debug("skipping malformed data frame", "error", err)
				continue
			}
			for _, item := range items {
				fmt.Fprintf(c.out, "\n  %s", cliui.DimStyle.Render("· "+string(item)))
			}
			fmt.Fprintln(c.out)

		case frame.FunctionCall, frame.ToolCalls:
			call, err := json.MarshalIndent(f.Value, "  ", "  ")
			if err != nil {
				return content.String(), fmt.Errorf("formatting %s frame: %w", f.Kind, err)
			}
			fmt.Fprintf(c.out, "\n  %s\n", cliui.CallStyle.Render(string(call)))

		case frame.Error:
			return content.String(), fmt.Errorf("proxy stream error: %s", f.Text())
		}
	}

	if c.render && content.Len() > 0 {
		rendered, err := cliui.RenderMarkdown(content.String())
		if err != nil {
			c.logger.Debug("markdown rendering failed", "error", err)
			rendered = content.String()
		}
		fmt.Fprint(c.out, "\n"+rendered)
	}

	return content.String(), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
