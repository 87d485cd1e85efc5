package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/QuietCraftsmanship/AI/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the AISTREAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (AISTREAM_PROXY_LISTEN, AISTREAM_KAFKA_BROKERS, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: AISTREAM_PROXY_LISTEN, AISTREAM_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("AISTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Proxy
	v.SetDefault("proxy.provider", d.Proxy.Provider)
	v.SetDefault("proxy.upstream", d.Proxy.Upstream)
	v.SetDefault("proxy.listen", d.Proxy.Listen)
	v.SetDefault("proxy.multiplexed", d.Proxy.Multiplexed)

	// Tools
	v.SetDefault("tools.mcp_endpoint", d.Tools.MCPEndpoint)

	// API
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.mcp", d.API.MCP)

	// Storage
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)

	// Kafka
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)

	// Client
	v.SetDefault("client.proxy_target", d.Client.ProxyTarget)
	v.SetDefault("client.api_target", d.Client.APITarget)
}
