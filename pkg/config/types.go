package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent aistream configuration stored as
// config.toml in the .aistream/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version int           `toml:"version"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Tools   ToolsConfig   `toml:"tools"`
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Kafka   KafkaConfig   `toml:"kafka"`
	Client  ClientConfig  `toml:"client"`
}

// ProxyConfig holds proxy settings.
type ProxyConfig struct {
	Provider string `toml:"provider,omitempty"`
	Upstream string `toml:"upstream,omitempty"`
	Listen   string `toml:"listen,omitempty"`

	// Multiplexed makes every streaming response use the frame protocol,
	// regardless of the request's X-Stream-Protocol header.
	Multiplexed bool `toml:"multiplexed,omitempty"`
}

// ToolsConfig holds tool execution settings.
type ToolsConfig struct {
	// MCPEndpoint is the streamable HTTP endpoint of an MCP server whose tools
	// the proxy executes. Empty disables tool execution.
	MCPEndpoint string `toml:"mcp_endpoint,omitempty"`
}

// APIConfig holds settings for the rounds API server.
type APIConfig struct {
	// Listen is the API address. Passing an empty --api-listen disables the
	// API server.
	Listen string `toml:"listen,omitempty"`

	// MCP mounts the read-only rounds MCP server at /mcp.
	MCP bool `toml:"mcp,omitempty"`
}

// StorageConfig holds round storage settings.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// KafkaConfig holds round event publishing settings.
type KafkaConfig struct {
	// Brokers is a comma separated list of host:port pairs. Empty disables
	// publishing.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// BrokerList splits Brokers into its addresses.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ClientConfig holds settings for CLI commands that connect to the running
// proxy (e.g. aistream chat). Values are full URLs (scheme + host + port).
type ClientConfig struct {
	ProxyTarget string `toml:"proxy_target,omitempty"`
	APITarget   string `toml:"api_target,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"proxy.provider": {
		get: func(c *Config) string { return c.Proxy.Provider },
		set: func(c *Config, v string) error { c.Proxy.Provider = v; return nil },
	},
	"proxy.upstream": {
		get: func(c *Config) string { return c.Proxy.Upstream },
		set: func(c *Config, v string) error { c.Proxy.Upstream = v; return nil },
	},
	"proxy.listen": {
		get: func(c *Config) string { return c.Proxy.Listen },
		set: func(c *Config, v string) error { c.Proxy.Listen = v; return nil },
	},
	"proxy.multiplexed": {
		get: func(c *Config) string { return strconv.FormatBool(c.Proxy.Multiplexed) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for proxy.multiplexed: %w", err)
			}
			c.Proxy.Multiplexed = b
			return nil
		},
	},
	"tools.mcp_endpoint": {
		get: func(c *Config) string { return c.Tools.MCPEndpoint },
		set: func(c *Config, v string) error { c.Tools.MCPEndpoint = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"api.mcp": {
		get: func(c *Config) string { return strconv.FormatBool(c.API.MCP) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for api.mcp: %w", err)
			}
			c.API.MCP = b
			return nil
		},
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"kafka.brokers": {
		get: func(c *Config) string { return c.Kafka.Brokers },
		set: func(c *Config, v string) error { c.Kafka.Brokers = v; return nil },
	},
	"kafka.topic": {
		get: func(c *Config) string { return c.Kafka.Topic },
		set: func(c *Config, v string) error { c.Kafka.Topic = v; return nil },
	},
	"client.proxy_target": {
		get: func(c *Config) string { return c.Client.ProxyTarget },
		set: func(c *Config, v string) error { c.Client.ProxyTarget = v; return nil },
	},
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
}
