// Package analyzer turns a validated incident into response recommendations
// by way of a chat-completion model.
package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    Role
	Content string
}

// Options are the generation settings passed to a provider.
type Options struct {
	Temperature     float32
	MaxOutputTokens int
	StopSequences   []string
}

// Provider is the interface for chat-completion backends.
type Provider interface {
	// Chat sends the messages and returns the generated text.
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
	// Name identifies the backend and model, e.g. "ollama:llama3.1".
	Name() string
}

// Middleware decorates a Provider with a cross-cutting policy
// (timeouts, retries, circuit breaking).
type Middleware func(Provider) Provider

// Wrap applies middlewares in left-to-right order.
// Wrap(inner, A, B) => A(B(inner)).
func Wrap(inner Provider, mws ...Middleware) Provider {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			out = mws[i](out)
		}
	}
	return out
}

// ProviderConfig selects and configures a backend.
type ProviderConfig struct {
	Provider string // ollama | openai | anthropic | gemini
	Endpoint string
	Model    string
	APIKey   string
}

// NewProvider creates a Provider from configuration. The HTTP client has no
// timeout of its own; every call is bounded by the context it receives.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	client := &http.Client{}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")

	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		if endpoint == "" {
			return nil, fmt.Errorf("ollama: endpoint is required")
		}
		return &OllamaProvider{model: cfg.Model, endpoint: endpoint, client: client}, nil
	case "anthropic":
		if endpoint == "" {
			return nil, fmt.Errorf("anthropic: endpoint is required")
		}
		return &AnthropicProvider{apiKey: cfg.APIKey, model: cfg.Model, endpoint: endpoint, client: client}, nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, endpoint, client), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model, endpoint, client)
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
}

// truncateAPIError limits API error response bodies to prevent sensitive information leakage.
// Returns at most 512 bytes of the response for diagnostic purposes.
func truncateAPIError(body []byte) string {
	const maxLen = 512
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "... (truncated)"
}
