// Package servecmder provides the serve command, which runs the streaming
// proxy.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/QuietCraftsmanship/AI/api"
	apicmder "github.com/QuietCraftsmanship/AI/cmd/aistream/serve/api"
	"github.com/QuietCraftsmanship/AI/pkg/cliui"
	"github.com/QuietCraftsmanship/AI/pkg/config"
	"github.com/QuietCraftsmanship/AI/pkg/eventstream"
	"github.com/QuietCraftsmanship/AI/pkg/eventstream/kafka"
	"github.com/QuietCraftsmanship/AI/pkg/eventstream/nop"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/pkg/storage"
	"github.com/QuietCraftsmanship/AI/pkg/storage/inmemory"
	"github.com/QuietCraftsmanship/AI/pkg/storage/sqlite"
	"github.com/QuietCraftsmanship/AI/proxy"
	"github.com/QuietCraftsmanship/AI/proxy/tools"
)

type serveCommander struct {
	listen       string
	upstream     string
	providerType string
	multiplexed  bool
	mcpEndpoint  string
	sqlitePath   string
	kafkaBrokers string
	kafkaTopic   string
	apiListen    string
	apiMCP       bool
	debug        bool

	logger *slog.Logger
}

// proxyFlagKeys lists every flag serve registers from config.ProxyFlags.
var proxyFlagKeys = []string{
	config.FlagProxyListen,
	config.FlagUpstream,
	config.FlagProvider,
	config.FlagMultiplexed,
	config.FlagMCPEndpoint,
	config.FlagAPIListen,
	config.FlagAPIMCP,
	config.FlagSQLite,
	config.FlagKafkaBroker,
	config.FlagKafkaTopic,
}

const serveLongDesc string = `Run the streaming proxy.

The proxy forwards requests to the configured upstream. Streaming chat
responses are decoded from server-sent events and re-emitted either as plain
text or, when the client sends "X-Stream-Protocol: multiplexed" (or
--multiplexed is set), as line-delimited frames.

With --mcp-endpoint, tool calls requested by the model are executed against
the MCP server and the conversation continues on the same response.

Completed rounds are stored and served read-only by the rounds API on
--api-listen. With --api-mcp the same rounds are exposed as MCP tools at /mcp.
Use "aistream serve api" to run the API alone against a SQLite database.

Supported provider types: openai, azure, anthropic, ollama, raw`

const serveShortDesc string = "Run the streaming proxy"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ProxyFlags, proxyFlagKeys)

			cmder.listen = v.GetString("proxy.listen")
			cmder.upstream = v.GetString("proxy.upstream")
			cmder.providerType = v.GetString("proxy.provider")
			cmder.multiplexed = v.GetBool("proxy.multiplexed")
			cmder.mcpEndpoint = v.GetString("tools.mcp_endpoint")
			cmder.apiListen = v.GetString("api.listen")
			cmder.apiMCP = v.GetBool("api.mcp")
			cmder.sqlitePath = v.GetString("storage.sqlite_path")
			cmder.kafkaBrokers = v.GetString("kafka.brokers")
			cmder.kafkaTopic = v.GetString("kafka.topic")
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

	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagProxyListen, &cmder.listen)
	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagProvider, &cmder.providerType)
	config.AddBoolFlag(cmd, config.ProxyFlags, config.FlagMultiplexed, &cmder.multiplexed)
	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagMCPEndpoint, &cmder.mcpEndpoint)
	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagAPIListen, &cmder.apiListen)
	config.AddBoolFlag(cmd, config.ProxyFlags, config.FlagAPIMCP, &cmder.apiMCP)
	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagKafkaBroker, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	cmd.AddCommand(apicmder.NewAPICmd())

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
		logger.WithWriter(cmd.ErrOrStderr()),
	)

	driver, err := c.newStorageDriver()
	if err != nil {
		return err
	}
	defer driver.Close()

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	cfg := proxy.Config{
		ListenAddr:   c.listen,
		UpstreamURL:  c.upstream,
		ProviderType: c.providerType,
		Multiplexed:  c.multiplexed,
		Publisher:    publisher,
	}

	if c.mcpEndpoint != "" {
		err := cliui.Step(cmd.ErrOrStderr(), "Connecting to MCP server "+c.mcpEndpoint, func() error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cfg.Tools, err = tools.Connect(ctx, tools.Config{
				Endpoint: c.mcpEndpoint,
				Logger:   c.logger,
			})
			return err
		})
		if err != nil {
			return err
		}
		defer cfg.Tools.Close()
	}

	p, err := proxy.New(cfg, driver, c.logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}
	defer p.Close()

	errChan := make(chan error, 2)
	go func() {
		if err := p.Run(); err != nil {
			errChan <- fmt.Errorf("proxy error: %w", err)
		}
	}()

	if c.apiListen != "" {
		apiServer, err := api.NewServer(api.Config{
			ListenAddr: c.apiListen,
			MCP:        c.apiMCP,
			Logger:     c.logger,
		}, driver)
		if err != nil {
			return fmt.Errorf("creating api server: %w", err)
		}
		defer apiServer.Shutdown()

		go func() {
			if err := apiServer.Run(); err != nil {
				errChan <- fmt.Errorf("API server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	}
}

func (c *serveCommander) newStorageDriver() (storage.Driver, error) {
	if c.sqlitePath != "" {
		driver, err := sqlite.NewDriver(context.Background(), c.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite driver: %w", err)
		}
		c.logger.Info("using SQLite storage", "path", c.sqlitePath)
		return driver, nil
	}

	c.logger.Info("using in-memory storage")
	return inmemory.NewDriver(), nil
}

func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	brokers := config.KafkaConfig{Brokers: c.kafkaBrokers}.BrokerList()
	if len(brokers) == 0 {
		return nop.NewPublisher(), nil
	}
	if c.kafkaTopic == "" {
		return nil, errors.New("kafka topic is required when brokers are set")
	}

	publisher, err := kafka.NewPublisher(kafka.Config{
		Brokers: brokers,
		Topic:   c.kafkaTopic,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	c.logger.Info("publishing round events", "brokers", brokers, "topic", c.kafkaTopic)
	return publisher, nil
}
