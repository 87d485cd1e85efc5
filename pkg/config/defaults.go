package config

const (
	defaultProvider    = "openai"
	defaultUpstream    = "https://api.openai.com"
	defaultProxyListen = ":8080"

	defaultAPIListen = ":8081"

	defaultKafkaTopic = "aistream.rounds"

	defaultClientProxyTarget = "http://localhost:8080"
	defaultClientAPITarget   = "http://localhost:8081"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Proxy: ProxyConfig{
			Provider: defaultProvider,
			Upstream: defaultUpstream,
			Listen:   defaultProxyListen,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Kafka: KafkaConfig{
			Topic: defaultKafkaTopic,
		},
		Client: ClientConfig{
			ProxyTarget: defaultClientProxyTarget,
			APITarget:   defaultClientAPITarget,
		},
	}
}
