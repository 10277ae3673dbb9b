package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/llms"
	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/vector"
)

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error      { return nil }

type fakeStore struct {
	hits    map[string][]vector.SearchResult
	failing map[string]bool
}

func (f *fakeStore) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.SearchResult, error) {
	if f.failing[collection] {
		return nil, errors.New("connection refused")
	}
	hits := f.hits[collection]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeStore) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.SearchResult, error) {
	return f.Search(ctx, collection, vec, topK)
}

func (f *fakeStore) Upsert(ctx context.Context, collection, id string, vec []float32, md map[string]any) error {
	return nil
}
func (f *fakeStore) Delete(ctx context.Context, collection, id string) error             { return nil }
func (f *fakeStore) CreateCollection(ctx context.Context, collection string, n uint64) error { return nil }
func (f *fakeStore) Close() error                                                        { return nil }

func testConfig() *config.RetrievalConfig {
	cfg := &config.RetrievalConfig{}
	cfg.SetDefaults()
	return cfg
}

func testCollections() map[string]*config.CollectionConfig {
	cols := map[string]*config.CollectionConfig{
		"visa_oracle": {},
		"tax_genius":  {},
	}
	for name, c := range cols {
		c.SetDefaults(name)
	}
	return cols
}

func proDecision(collections ...string) protocol.RouteDecision {
	return protocol.RouteDecision{Tier: protocol.TierPro, Collections: collections, Language: "en"}
}

func TestRetrieveMergesAndSorts(t *testing.T) {
	store := &fakeStore{hits: map[string][]vector.SearchResult{
		"visa_oracle": {
			{ID: "v1", Score: 0.9, Content: "KITAS overview", Metadata: map[string]any{"title": "Visa guide", "parent_id": "p1"}},
			{ID: "v2", Score: 0.5, Content: "B211A details", Metadata: map[string]any{}},
		},
		"tax_genius": {
			{ID: "t1", Score: 0.7, Content: "NPWP registration", Metadata: map[string]any{"parent_id": "p2"}},
		},
	}}

	p := NewPipeline(testConfig(), testCollections(), &fakeEmbedder{}, store, nil, nil, slog.Default())

	res, err := p.Retrieve(context.Background(), "visa and tax", proDecision("visa_oracle", "tax_genius"))
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)
	assert.False(t, res.Degraded)
	assert.Equal(t, "v1", res.Chunks[0].ID)
	assert.Equal(t, "t1", res.Chunks[1].ID)
	assert.Equal(t, "v2", res.Chunks[2].ID)
	assert.Equal(t, "Visa guide", res.Chunks[0].Title)
	assert.Equal(t, "p1", res.Chunks[0].ParentID)
}

func TestRetrieveDegradesOnCollectionFailure(t *testing.T) {
	store := &fakeStore{
		hits: map[string][]vector.SearchResult{
			"visa_oracle": {{ID: "v1", Score: 0.9, Content: "text", Metadata: map[string]any{}}},
		},
		failing: map[string]bool{"tax_genius": true},
	}

	p := NewPipeline(testConfig(), testCollections(), &fakeEmbedder{}, store, nil, nil, slog.Default())

	res, err := p.Retrieve(context.Background(), "anything", proDecision("visa_oracle", "tax_genius"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "v1", res.Chunks[0].ID)
}

func TestRetrieveEmbeddingFailureIsTransient(t *testing.T) {
	p := NewPipeline(testConfig(), testCollections(), &fakeEmbedder{err: errors.New("timeout")}, &fakeStore{}, nil, nil, slog.Default())

	_, err := p.Retrieve(context.Background(), "anything", proDecision("visa_oracle"))
	require.Error(t, err)
	assert.Equal(t, protocol.ErrRetrievalTransient, protocol.KindOf(err))
}

type mockGenerator struct {
	reply string
	err   error
}

func (m *mockGenerator) Generate(ctx context.Context, modelTier string, req llms.Request) (string, []*protocol.ToolCall, int, error) {
	return m.reply, nil, 0, m.err
}

func TestLLMRerankerReorders(t *testing.T) {
	r := NewLLMReranker(&mockGenerator{reply: "[2, 0, 1]"}, "fast")

	chunks := []Chunk{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	out, err := r.Rerank(context.Background(), "q", chunks)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "a", out[1].ID)
	assert.Equal(t, "b", out[2].ID)
	assert.Greater(t, out[0].RerankScore, out[2].RerankScore)
}

func TestLLMRerankerRejectsBadReply(t *testing.T) {
	chunks := []Chunk{{ID: "a"}, {ID: "b"}}

	_, err := NewLLMReranker(&mockGenerator{reply: "sure, here is the ranking"}, "fast").
		Rerank(context.Background(), "q", chunks)
	assert.Error(t, err)

	_, err = NewLLMReranker(&mockGenerator{reply: "[0, 0]"}, "fast").
		Rerank(context.Background(), "q", chunks)
	assert.Error(t, err)
}

func TestLLMRerankerAppendsMissingIndexes(t *testing.T) {
	r := NewLLMReranker(&mockGenerator{reply: "[1]"}, "fast")

	out, err := r.Rerank(context.Background(), "q", []Chunk{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "a", out[1].ID)
	assert.Equal(t, "c", out[2].ID)
}

func TestRerankFailureDegradesPipeline(t *testing.T) {
	store := &fakeStore{hits: map[string][]vector.SearchResult{
		"visa_oracle": {
			{ID: "v1", Score: 0.9, Content: "one", Metadata: map[string]any{}},
			{ID: "v2", Score: 0.5, Content: "two", Metadata: map[string]any{}},
		},
	}}
	reranker := NewLLMReranker(&mockGenerator{err: errors.New("rate limited")}, "fast")
	p := NewPipeline(testConfig(), testCollections(), &fakeEmbedder{}, store, reranker, nil, slog.Default())

	res, err := p.Retrieve(context.Background(), "anything", proDecision("visa_oracle"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, "v1", res.Chunks[0].ID)
}

func TestSemanticCacheTTL(t *testing.T) {
	cache := NewSemanticCache(time.Hour, 10)
	now := time.Now()
	cache.now = func() time.Time { return now }

	pack := &protocol.EvidencePack{Answer: "cached answer"}
	cache.Set("k1", pack)

	got, ok := cache.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "cached answer", got.Answer)

	now = now.Add(2 * time.Hour)
	_, ok = cache.Get("k1")
	assert.False(t, ok)
}

func TestSemanticCacheEviction(t *testing.T) {
	cache := NewSemanticCache(time.Hour, 2)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Set("k1", &protocol.EvidencePack{Answer: "1"})
	now = now.Add(time.Minute)
	cache.Set("k2", &protocol.EvidencePack{Answer: "2"})
	now = now.Add(time.Minute)
	cache.Set("k3", &protocol.EvidencePack{Answer: "3"})

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("k1")
	assert.False(t, ok)
	_, ok = cache.Get("k3")
	assert.True(t, ok)
}

func TestSemanticCachePurgeByPrefix(t *testing.T) {
	cache := NewSemanticCache(time.Hour, 10)
	cache.Set("visa_oracle|pro|en|abc", &protocol.EvidencePack{})
	cache.Set("visa_oracle|fast|en|def", &protocol.EvidencePack{})
	cache.Set("tax_genius|pro|en|ghi", &protocol.EvidencePack{})

	removed := cache.Purge("visa_oracle")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, cache.Len())
}

func TestFingerprintNormalization(t *testing.T) {
	d := proDecision("visa_oracle")

	assert.Equal(t, Fingerprint("How much is a KITAS?", d), Fingerprint("  how much is a kitas  ", d))
	assert.NotEqual(t, Fingerprint("q", d), Fingerprint("q", proDecision("tax_genius")))

	deep := d
	deep.Tier = protocol.TierDeep
	assert.NotEqual(t, Fingerprint("q", d), Fingerprint("q", deep))
}

func TestCacheLookupFlagsCached(t *testing.T) {
	p := NewPipeline(testConfig(), testCollections(), &fakeEmbedder{}, &fakeStore{}, nil, nil, slog.Default())
	d := proDecision("visa_oracle")

	_, ok := p.CacheLookup(context.Background(), "how much is a kitas", d)
	assert.False(t, ok)

	p.CacheStore("how much is a kitas", d, &protocol.EvidencePack{Answer: "12M IDR", VerificationScore: 0.9})

	pack, ok := p.CacheLookup(context.Background(), "How much is a KITAS?", d)
	require.True(t, ok)
	assert.True(t, pack.Cached)
	assert.Equal(t, "12M IDR", pack.Answer)
}

func TestChunkIDDeterminism(t *testing.T) {
	ns := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	id1, err := ChunkID(ns, "visa_oracle/kitas-overview/0")
	require.NoError(t, err)
	id2, err := ChunkID(ns, "visa_oracle/kitas-overview/0")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	other, err := ChunkID(ns, "visa_oracle/kitas-overview/1")
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	_, err = ChunkID("not-a-uuid", "key")
	assert.Error(t, err)
	_, err = ChunkID(ns, "")
	assert.Error(t, err)
}

func TestSQLParentStoreFiltersNonCanonical(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "parents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLParentStore(db, "sqlite")
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO parent_documents (id, title, full_text, metadata_json, is_canonical) VALUES
		('p1', 'Visa guide', 'full text here', '{"lang":"en"}', TRUE),
		('p2', 'Draft', 'stale text', NULL, FALSE)`)
	require.NoError(t, err)

	doc, err := store.GetParent(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "Visa guide", doc.Title)
	assert.Equal(t, "en", doc.Metadata["lang"])

	doc, err = store.GetParent(context.Background(), "p2")
	require.NoError(t, err)
	assert.Nil(t, doc)

	doc, err = store.GetParent(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestParentExpansionDeduplicates(t *testing.T) {
	store := &fakeStore{hits: map[string][]vector.SearchResult{
		"visa_oracle": {
			{ID: "v1", Score: 0.9, Content: "a", Metadata: map[string]any{"parent_id": "p1"}},
			{ID: "v2", Score: 0.8, Content: "b", Metadata: map[string]any{"parent_id": "p1"}},
			{ID: "v3", Score: 0.7, Content: "c", Metadata: map[string]any{"parent_id": "p2"}},
		},
	}}
	parents := &fakeParentStore{docs: map[string]*ParentDocument{
		"p1": {ID: "p1", Title: "Guide", FullText: "full"},
		"p2": {ID: "p2", Title: "Other", FullText: "full2"},
	}}

	p := NewPipeline(testConfig(), testCollections(), &fakeEmbedder{}, store, nil, parents, slog.Default())

	res, err := p.Retrieve(context.Background(), "q", proDecision("visa_oracle"))
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)
	require.NotNil(t, res.Chunks[0].Parent)
	require.NotNil(t, res.Chunks[1].Parent)
	assert.Same(t, res.Chunks[0].Parent, res.Chunks[1].Parent)
	assert.Equal(t, 2, parents.fetches)
}

type fakeParentStore struct {
	docs    map[string]*ParentDocument
	fetches int
}

func (f *fakeParentStore) GetParent(ctx context.Context, parentID string) (*ParentDocument, error) {
	f.fetches++
	return f.docs[parentID], nil
}
