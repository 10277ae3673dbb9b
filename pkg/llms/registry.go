package llms

import (
	"context"
	"fmt"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/registry"
)

// Registry holds named model providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// NewProvider builds a provider from config.
func NewProvider(ctx context.Context, cfg *config.LLMProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm provider config cannot be nil")
	}

	switch cfg.Type {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	case "gemini":
		return NewGeminiProvider(ctx, cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", cfg.Type)
	}
}

// BuildRegistry constructs and registers every configured provider.
func BuildRegistry(ctx context.Context, cfg *config.LLMConfig) (*Registry, error) {
	reg := NewRegistry()
	for name, providerCfg := range cfg.Providers {
		provider, err := NewProvider(ctx, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		if err := reg.Register(name, provider); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
