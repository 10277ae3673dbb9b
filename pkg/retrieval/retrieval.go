// Package retrieval implements the staged retrieval pipeline: semantic
// cache probe, query embedding, per-collection vector search, reranking,
// and parent-document expansion.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/embedders"
	"github.com/balizero/nuzantara/pkg/observability"
	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/vector"
)

// Chunk is one retrieved candidate, scored by the vector store and
// optionally rescored by the reranker.
type Chunk struct {
	ID          string
	Collection  string
	Content     string
	Title       string
	ParentID    string
	Score       float32
	RerankScore float32
	Parent      *ParentDocument
	Metadata    map[string]any
}

// Result is the assembled pipeline output, ordered best-first.
type Result struct {
	Chunks []Chunk

	// Degraded is set when a collection or the reranker failed and the
	// pipeline proceeded without it. Lowers the verification score.
	Degraded bool
}

// Pipeline wires the retrieval stages together. Safe for concurrent use;
// identical in-flight retrievals are coalesced.
type Pipeline struct {
	cfg         *config.RetrievalConfig
	collections map[string]*config.CollectionConfig
	embedder    embedders.Provider
	store       vector.Provider
	reranker    Reranker
	parents     ParentStore
	cache       *SemanticCache
	group       singleflight.Group
	logger      *slog.Logger
}

// NewPipeline builds the pipeline. reranker and parents may be nil, which
// disables those stages.
func NewPipeline(cfg *config.RetrievalConfig, collections map[string]*config.CollectionConfig, embedder embedders.Provider, store vector.Provider, reranker Reranker, parents ParentStore, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		collections: collections,
		embedder:    embedder,
		store:       store,
		reranker:    reranker,
		parents:     parents,
		cache:       NewSemanticCache(cfg.CacheTTLDuration(), cfg.CacheMaxEntries),
		logger:      logger,
	}
}

// CacheLookup probes the semantic cache for a previously verified answer
// to an equivalent query under the same route.
func (p *Pipeline) CacheLookup(ctx context.Context, query string, decision protocol.RouteDecision) (*protocol.EvidencePack, bool) {
	pack, ok := p.cache.Get(Fingerprint(query, decision))
	observability.GetGlobalMetrics().RecordCacheLookup(ctx, ok)
	if !ok {
		return nil, false
	}
	copied := *pack
	copied.Cached = true
	return &copied, true
}

// CacheStore saves a verified answer for equivalent future queries.
func (p *Pipeline) CacheStore(query string, decision protocol.RouteDecision, pack *protocol.EvidencePack) {
	p.cache.Set(Fingerprint(query, decision), pack)
}

// PurgeCache drops all cache entries whose key matches the prefix. Called
// out-of-band when the ingestion pipeline signals content changes.
func (p *Pipeline) PurgeCache(prefix string) int {
	return p.cache.Purge(prefix)
}

// Retrieve runs embedding, fan-out search, rerank and parent expansion for
// the collections in the route decision.
func (p *Pipeline) Retrieve(ctx context.Context, query string, decision protocol.RouteDecision) (*Result, error) {
	key := Fingerprint(query, decision)
	v, err, _ := p.group.Do(key, func() (any, error) {
		return p.retrieve(ctx, query, decision)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (p *Pipeline) retrieve(ctx context.Context, query string, decision protocol.RouteDecision) (*Result, error) {
	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, protocol.NewTurnError(protocol.ErrRetrievalTransient, "retrieval", "query embedding failed", err)
	}

	result := &Result{}
	chunks, degraded := p.search(ctx, embedding, decision.Collections)
	result.Degraded = degraded

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if p.cfg.Threshold > 0 {
		chunks = filterByThreshold(chunks, p.cfg.Threshold)
	}

	if p.reranker != nil && p.cfg.RerankerEnabled(string(decision.Tier)) && len(chunks) > 1 {
		capped := chunks
		if len(capped) > p.cfg.RerankMaxResults {
			capped = capped[:p.cfg.RerankMaxResults]
		}
		reranked, err := p.reranker.Rerank(ctx, query, capped)
		if err != nil {
			p.logger.WarnContext(ctx, "Reranker failed, keeping vector order", "error", err)
			result.Degraded = true
		} else {
			chunks = reranked
		}
	}

	p.expandParents(ctx, chunks)

	result.Chunks = chunks
	return result, nil
}

// search fans out one vector query per collection. A failing collection is
// skipped, not fatal.
func (p *Pipeline) search(ctx context.Context, embedding []float32, collections []string) ([]Chunk, bool) {
	var (
		g, gctx  = errgroup.WithContext(ctx)
		results  = make([][]Chunk, len(collections))
		failures = make([]bool, len(collections))
	)

	for i, name := range collections {
		g.Go(func() error {
			topK := p.cfg.TopK
			if cc, ok := p.collections[name]; ok {
				topK = cc.TopK
			}

			start := time.Now()
			hits, err := p.store.Search(gctx, name, embedding, topK)
			observability.GetGlobalMetrics().RecordRetrieval(gctx, name, time.Since(start))
			if err != nil {
				p.logger.WarnContext(gctx, "Collection search failed, proceeding without it",
					"collection", name, "error", err)
				failures[i] = true
				return nil
			}

			chunks := make([]Chunk, 0, len(hits))
			for _, h := range hits {
				chunks = append(chunks, chunkFromHit(name, h))
			}
			results[i] = chunks
			return nil
		})
	}
	_ = g.Wait()

	var merged []Chunk
	degraded := false
	for i := range collections {
		merged = append(merged, results[i]...)
		degraded = degraded || failures[i]
	}
	return merged, degraded
}

// expandParents fetches the canonical parent document for the top-M chunks,
// deduplicated by parent id.
func (p *Pipeline) expandParents(ctx context.Context, chunks []Chunk) {
	if p.parents == nil {
		return
	}

	topM := p.cfg.ParentExpansionTopM
	if topM > len(chunks) {
		topM = len(chunks)
	}
	seen := make(map[string]*ParentDocument)
	for i := 0; i < topM; i++ {
		parentID := chunks[i].ParentID
		if parentID == "" {
			continue
		}
		if doc, ok := seen[parentID]; ok {
			chunks[i].Parent = doc
			continue
		}

		doc, err := p.parents.GetParent(ctx, parentID)
		if err != nil {
			p.logger.WarnContext(ctx, "Parent fetch failed", "parent_id", parentID, "error", err)
			continue
		}
		if doc == nil {
			continue
		}
		seen[parentID] = doc
		chunks[i].Parent = doc
	}
}

func chunkFromHit(collection string, h vector.SearchResult) Chunk {
	c := Chunk{
		ID:         h.ID,
		Collection: collection,
		Content:    h.Content,
		Score:      h.Score,
		Metadata:   h.Metadata,
	}
	if title, ok := h.Metadata["title"].(string); ok {
		c.Title = title
	}
	if parentID, ok := h.Metadata["parent_id"].(string); ok {
		c.ParentID = parentID
	}
	return c
}

func filterByThreshold(chunks []Chunk, threshold float32) []Chunk {
	out := chunks[:0]
	for _, c := range chunks {
		if c.Score >= threshold {
			out = append(out, c)
		}
	}
	return out
}
