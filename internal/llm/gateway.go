package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nikhilbhutani/dictation/internal/config"
)

type gateway struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewGateway registers every provider that has credentials. A request that
// carries its own OpenAI key is always routed to OpenAI so that a caller's key
// is never paired with the server's credentials for another provider.
func NewGateway(cfg config.RewriteConfig) Gateway {
	g := &gateway{
		providers:       make(map[string]Provider),
		defaultProvider: cfg.Provider,
	}

	// OpenAI is registered even without a server key so bring-your-own-key requests work.
	g.providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBase)
	if cfg.AnthropicKey != "" {
		g.providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey)
	}
	if cfg.OllamaURL != "" {
		g.providers["ollama"] = NewOllamaProvider(cfg.OllamaURL)
	}

	return g
}

// NewGatewayWithProviders is used by tests and by callers that build providers themselves.
func NewGatewayWithProviders(defaultProvider string, providers ...Provider) Gateway {
	g := &gateway{
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: defaultProvider,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) DefaultProvider() string { return g.defaultProvider }

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}
	if req.APIKey != "" && providerName != "openai" {
		slog.Debug("caller key supplied, routing completion to openai", "configured", providerName)
		providerName = "openai"
		req.Model = ""
	}

	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}
	return p.ChatCompletion(ctx, req)
}
