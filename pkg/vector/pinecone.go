package vector

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/balizero/nuzantara/pkg/config"
)

// pineconeProvider maps collections onto Pinecone namespaces within a
// single index. Indexes are provisioned out of band.
type pineconeProvider struct {
	client    *pinecone.Client
	indexHost string
}

// NewPineconeProvider connects to a Pinecone index.
func NewPineconeProvider(cfg *config.VectorStoreConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}
	if cfg.IndexHost == "" {
		return nil, fmt.Errorf("index_host is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
		Host:   cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &pineconeProvider{
		client:    client,
		indexHost: cfg.IndexHost,
	}, nil
}

func (db *pineconeProvider) connect(collection string) (*pinecone.IndexConnection, error) {
	conn, err := db.client.Index(pinecone.NewIndexConnParams{
		Host:      db.indexHost,
		Namespace: collection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return conn, nil
}

func (db *pineconeProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	conn, err := db.connect(collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	var meta *pinecone.Metadata
	if len(metadata) > 0 {
		meta, err = structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
	}

	_, err = conn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   vector,
		Metadata: meta,
	}})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (db *pineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	return db.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (db *pineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]SearchResult, error) {
	conn, err := db.connect(collection)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}
		content, _ := metadata["content"].(string)

		results = append(results, SearchResult{
			ID:       match.Vector.Id,
			Content:  content,
			Metadata: metadata,
			Score:    match.Score,
		})
	}
	return results, nil
}

func (db *pineconeProvider) Delete(ctx context.Context, collection string, id string) error {
	conn, err := db.connect(collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

// CreateCollection verifies the configured index exists. Pinecone indexes
// are created via the console or management API, not at runtime.
func (db *pineconeProvider) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	conn, err := db.connect(collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.DescribeIndexStats(ctx); err != nil {
		return fmt.Errorf("pinecone index not reachable at %s: %w", db.indexHost, err)
	}
	return nil
}

func (db *pineconeProvider) Close() error {
	return nil
}
