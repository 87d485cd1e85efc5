package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --listen
// on both "aistream serve" and the standalone aistreamprox binary).
type Flag struct {
	// Name is the long flag name (e.g. "upstream").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "proxy.upstream").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddBoolFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagProxyListen = "proxy-listen"
	FlagUpstream    = "upstream"
	FlagProvider    = "provider"
	FlagMultiplexed = "multiplexed"
	FlagMCPEndpoint = "mcp-endpoint"
	FlagSQLite      = "sqlite"
	FlagKafkaBroker = "kafka-brokers"
	FlagKafkaTopic  = "kafka-topic"
	FlagAPIListen   = "api-listen"
	FlagAPIMCP      = "api-mcp"
	FlagProxyTarget = "proxy-target"
	FlagAPITarget   = "api-target"
)

// ProxyFlags are the flags shared by every command that runs the proxy.
var ProxyFlags = FlagSet{
	FlagProxyListen: {Name: "listen", Shorthand: "l", ViperKey: "proxy.listen", Description: "Address for proxy to listen on"},
	FlagUpstream:    {Name: "upstream", Shorthand: "u", ViperKey: "proxy.upstream", Description: "Upstream LLM provider URL"},
	FlagProvider:    {Name: "provider", Shorthand: "p", ViperKey: "proxy.provider", Description: "LLM provider type (openai, azure, anthropic, ollama, raw)"},
	FlagMultiplexed: {Name: "multiplexed", ViperKey: "proxy.multiplexed", Description: "Always stream the multiplexed frame protocol"},
	FlagMCPEndpoint: {Name: "mcp-endpoint", ViperKey: "tools.mcp_endpoint", Description: "MCP server endpoint whose tools the proxy executes"},
	FlagAPIListen:   {Name: "api-listen", Shorthand: "a", ViperKey: "api.listen", Description: "Address for the rounds API to listen on (empty disables it)"},
	FlagAPIMCP:      {Name: "api-mcp", ViperKey: "api.mcp", Description: "Serve the rounds MCP server at /mcp on the API"},
	FlagSQLite:      {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite database (default: in-memory)"},
	FlagKafkaBroker: {Name: "kafka-brokers", ViperKey: "kafka.brokers", Description: "Comma separated Kafka brokers for round events"},
	FlagKafkaTopic:  {Name: "kafka-topic", ViperKey: "kafka.topic", Description: "Kafka topic for round events"},
}

// ClientFlags are the flags of commands that talk to a running proxy.
var ClientFlags = FlagSet{
	FlagProxyTarget: {Name: "proxy", ViperKey: "client.proxy_target", Description: "Proxy URL"},
	FlagAPITarget:   {Name: "api", ViperKey: "client.api_target", Description: "Rounds API URL"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, key string, target *bool) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultBool returns the default bool value for a viper key from NewDefaultConfig.
func defaultBool(viperKey string) bool {
	v := viper.New()
	setViperDefaults(v)
	return v.GetBool(viperKey)
}
