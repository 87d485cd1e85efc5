// Package configcmder provides the config command for managing persistent
// aistream configuration stored in the .aistream/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent aistream configuration.

Configuration is stored as config.toml in the .aistream/ directory and provides
default values for command flags. CLI flags and AISTREAM_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  proxy.provider, proxy.upstream, proxy.listen, proxy.multiplexed,
  tools.mcp_endpoint, storage.sqlite_path,
  kafka.brokers, kafka.topic, client.proxy_target

Use subcommands to get, set, or list configuration values:
  aistream config set <key> <value>    Set a configuration value
  aistream config get <key>            Get a configuration value
  aistream config list                 List all configuration values

Examples:
  aistream config set proxy.provider anthropic
  aistream config set proxy.multiplexed true
  aistream config get proxy.provider
  aistream config list`

const configShortDesc string = "Manage persistent aistream configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// configDir reads the persistent --config-dir flag when the command tree
// defines it.
func configDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("config-dir")
	return dir
}
