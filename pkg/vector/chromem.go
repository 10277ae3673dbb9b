package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/balizero/nuzantara/pkg/config"
)

// chromemProvider is the embedded, zero-infrastructure backend. Used for
// development and tests; persists to disk when a path is configured.
type chromemProvider struct {
	db *chromem.DB
	mu sync.Mutex
}

// NewChromemProvider opens an embedded chromem database.
func NewChromemProvider(cfg *config.VectorStoreConfig) (Provider, error) {
	if cfg.Path == "" {
		return &chromemProvider{db: chromem.NewDB()}, nil
	}

	db, err := chromem.NewPersistentDB(cfg.Path, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem database: %w", err)
	}
	return &chromemProvider{db: db}, nil
}

// collection returns the named collection, creating it on first use. The
// embedding func is never called because documents always carry vectors.
func (db *chromemProvider) collection(name string) (*chromem.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem provider requires precomputed embeddings")
	}
	col, err := db.db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}
	return col, nil
}

func (db *chromemProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	col, err := db.collection(collection)
	if err != nil {
		return err
	}

	meta := make(map[string]string, len(metadata))
	var content string
	for k, v := range metadata {
		if k == "content" {
			if s, ok := v.(string); ok {
				content = s
				continue
			}
		}
		meta[k] = fmt.Sprintf("%v", v)
	}

	doc := chromem.Document{
		ID:        id,
		Metadata:  meta,
		Embedding: vector,
		Content:   content,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

func (db *chromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	return db.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (db *chromemProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]SearchResult, error) {
	col, err := db.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the document count.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	where := make(map[string]string, len(filter))
	for k, v := range filter {
		where[k] = fmt.Sprintf("%v", v)
	}

	hits, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		metadata := make(map[string]any, len(hit.Metadata)+1)
		for k, v := range hit.Metadata {
			metadata[k] = v
		}
		metadata["content"] = hit.Content
		results = append(results, SearchResult{
			ID:       hit.ID,
			Content:  hit.Content,
			Metadata: metadata,
			Score:    hit.Similarity,
		})
	}
	return results, nil
}

func (db *chromemProvider) Delete(ctx context.Context, collection string, id string) error {
	col, err := db.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (db *chromemProvider) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	_, err := db.collection(collection)
	return err
}

func (db *chromemProvider) Close() error {
	return nil
}
