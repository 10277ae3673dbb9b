package embedders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/config"
)

func newEmbedderConfig(host string) *config.EmbedderConfig {
	cfg := &config.EmbedderConfig{
		Type:      "openai",
		APIKey:    "test-key",
		Host:      host,
		Model:     "text-embedding-3-small",
		Dimension: 3,
	}
	cfg.SetDefaults()
	return cfg
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		// Respond out of order; the client must reorder by index.
		resp := map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{4, 5, 6}, "index": 1},
				{"embedding": []float32{1, 2, 3}, "index": 0},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(newEmbedderConfig(srv.URL))
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 2, 3}, vecs[0])
	assert.Equal(t, []float32{4, 5, 6}, vecs[1])
}

func TestOpenAIEmbedder_RejectsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1, 2}, "index": 0},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(newEmbedderConfig(srv.URL))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestOpenAIEmbedder_RequiresAPIKey(t *testing.T) {
	cfg := newEmbedderConfig("http://localhost")
	cfg.APIKey = ""
	_, err := NewOpenAIEmbedder(cfg)
	require.Error(t, err)
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	cfg := &config.EmbedderConfig{Type: "ollama", Host: srv.URL, Dimension: 3}
	cfg.SetDefaults()

	e, err := NewOllamaEmbedder(cfg)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 3, e.Dimension())
}

func TestNewProvider_UnknownType(t *testing.T) {
	cfg := &config.EmbedderConfig{Type: "cohere"}
	_, err := NewProvider(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported embedder type")
}
