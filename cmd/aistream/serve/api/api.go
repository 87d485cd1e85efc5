// Package apicmder provides the standalone rounds API server command.
package apicmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/QuietCraftsmanship/AI/api"
	"github.com/QuietCraftsmanship/AI/pkg/config"
	"github.com/QuietCraftsmanship/AI/pkg/logger"
	"github.com/QuietCraftsmanship/AI/pkg/storage/sqlite"
)

type apiCommander struct {
	listen     string
	mcp        bool
	sqlitePath string
	debug      bool

	logger *slog.Logger
}

var apiFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagAPIMCP,
	config.FlagSQLite,
}

const apiLongDesc string = `Run the rounds API server on its own.

Serves the rounds recorded in a SQLite database written by a proxy running in
another process. Use this to inspect rounds without restarting the proxy.`

const apiShortDesc string = "Run the rounds API server"

func NewAPICmd() *cobra.Command {
	cmder := &apiCommander{}

	cmd := &cobra.Command{
		Use:   "api",
		Short: apiShortDesc,
		Long:  apiLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.ProxyFlags, apiFlagKeys)

			cmder.listen = v.GetString("api.listen")
			cmder.mcp = v.GetBool("api.mcp")
			cmder.sqlitePath = v.GetString("storage.sqlite_path")
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

	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagAPIListen, &cmder.listen)
	config.AddBoolFlag(cmd, config.ProxyFlags, config.FlagAPIMCP, &cmder.mcp)
	config.AddStringFlag(cmd, config.ProxyFlags, config.FlagSQLite, &cmder.sqlitePath)

	return cmd
}

func (c *apiCommander) run(cmd *cobra.Command) error {
	if c.sqlitePath == "" {
		return errors.New("the standalone api server requires --sqlite")
	}
	if c.listen == "" {
		return errors.New("api listen address is required")
	}

	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
		logger.WithWriter(cmd.ErrOrStderr()),
	)

	driver, err := sqlite.NewDriver(context.Background(), c.sqlitePath)
	if err != nil {
		return fmt.Errorf("failed to create SQLite driver: %w", err)
	}
	defer driver.Close()

	c.logger.Info("using SQLite storage", "path", c.sqlitePath)

	server, err := api.NewServer(api.Config{
		ListenAddr: c.listen,
		MCP:        c.mcp,
		Logger:     c.logger,
	}, driver)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	return server.Run()
}
