// Package embedders provides clients for the embedding endpoints used by
// the retrieval pipeline and the semantic cache. Embedding dimensionality
// is pinned at construction; a vector of any other size is an error, never
// silently truncated or padded.
package embedders

import (
	"context"
	"fmt"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/registry"
)

// Provider embeds text into fixed-dimension vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// Registry holds named embedder providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// NewProvider builds an embedder from config.
func NewProvider(cfg *config.EmbedderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}

	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
}

// checkDimension rejects vectors that do not match the pinned dimension.
func checkDimension(want int, got []float32) error {
	if want > 0 && len(got) != want {
		return fmt.Errorf("embedding dimension mismatch: pinned %d, provider returned %d", want, len(got))
	}
	return nil
}
