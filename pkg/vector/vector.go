// Package vector abstracts the vector databases serving chunk search for
// the retrieval pipeline. All providers speak the same Provider interface;
// collections map onto the backend's native namespace concept.
package vector

import (
	"context"
	"fmt"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/registry"
)

// Provider is a vector database backend.
type Provider interface {
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]SearchResult, error)
	Delete(ctx context.Context, collection string, id string) error
	CreateCollection(ctx context.Context, collection string, vectorSize uint64) error
	Close() error
}

// SearchResult is one scored chunk hit.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Registry holds named vector store providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// NewProvider builds a vector store from config.
func NewProvider(cfg *config.VectorStoreConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector store config cannot be nil")
	}

	switch cfg.Type {
	case "qdrant":
		return NewQdrantProvider(cfg)
	case "chromem":
		return NewChromemProvider(cfg)
	case "pinecone":
		return NewPineconeProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}
