package proxy

import (
	"net/http"

	"github.com/QuietCraftsmanship/AI/pkg/eventstream"
	"github.com/QuietCraftsmanship/AI/proxy/tools"
)

// Config is the proxy server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the upstream LLM provider URL (e.g., "https://api.openai.com")
	UpstreamURL string

	// ProviderType specifies the LLM provider type (e.g., "openai", "anthropic", "ollama").
	// It selects the delta parser applied to streamed responses.
	ProviderType string

	// Multiplexed makes every streamed response use the multiplexed frame
	// protocol. Clients can also opt in per request.
	Multiplexed bool

	// Tools executes model tool calls. If nil, calls are relayed to the
	// client as call frames.
	Tools *tools.Executor

	// Publisher receives an event for every recorded round. Defaults to a
	// no-op publisher.
	Publisher eventstream.Publisher

	// HTTPClient is used for upstream requests. Defaults to a client with a
	// five minute timeout.
	HTTPClient *http.Client
}
