package llm

// ChatRequest is the subset of a chat-completions request the proxy inspects.
// The proxy forwards the original bytes and never re-encodes this struct.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   *bool     `json:"stream,omitempty"`
}

// ErrorResponse is the JSON body returned to clients on proxy-side failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
