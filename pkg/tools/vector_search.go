package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/balizero/nuzantara/pkg/protocol"
	"github.com/balizero/nuzantara/pkg/retrieval"
)

// VectorSearchArgs is the model-facing schema for vector_search.
type VectorSearchArgs struct {
	Query       string   `json:"query" jsonschema:"required,description=The search query text"`
	Collections []string `json:"collections,omitempty" jsonschema:"description=Collections to search; defaults to the collections selected for this turn"`
	K           int      `json:"k,omitempty" jsonschema:"description=Number of results per collection"`
}

// VectorSearchTool runs an ad-hoc retrieval during the ReAct loop. The
// construction-time set holds every enabled collection; each call is
// further narrowed to the collections the router authorized for the turn,
// carried on the context.
type VectorSearchTool struct {
	pipeline *retrieval.Pipeline
	allowed  []string
	timeout  time.Duration
}

func NewVectorSearchTool(pipeline *retrieval.Pipeline, allowedCollections []string, timeout time.Duration) *VectorSearchTool {
	return &VectorSearchTool{pipeline: pipeline, allowed: allowedCollections, timeout: timeout}
}

func (t *VectorSearchTool) Name() string { return "vector_search" }

func (t *VectorSearchTool) Description() string {
	return "Search the knowledge base collections for passages relevant to a query."
}

func (t *VectorSearchTool) InputSchema() map[string]any { return schemaFor(&VectorSearchArgs{}) }
func (t *VectorSearchTool) Timeout() time.Duration      { return t.timeout }
func (t *VectorSearchTool) Idempotent() bool            { return true }

func (t *VectorSearchTool) Execute(ctx context.Context, rawArgs map[string]any) (string, error) {
	var args VectorSearchArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return "", err
	}
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	allowed := t.allowed
	if turn, ok := protocol.AuthorizedCollectionsFrom(ctx); ok {
		// Pinned to none fails closed rather than widening to all enabled.
		if len(turn) == 0 {
			return "", fmt.Errorf("no authorized collections to search")
		}
		allowed = intersect(turn, allowed)
	}

	collections := intersect(args.Collections, allowed)
	if len(collections) == 0 {
		return "", fmt.Errorf("no authorized collections to search")
	}

	res, err := t.pipeline.Retrieve(ctx, args.Query, protocol.RouteDecision{
		Tier:        protocol.TierFast,
		Collections: collections,
	})
	if err != nil {
		return "", err
	}

	type hit struct {
		ID         string  `json:"id"`
		Collection string  `json:"collection"`
		Title      string  `json:"title,omitempty"`
		Score      float32 `json:"score"`
		Excerpt    string  `json:"excerpt"`
	}
	hits := make([]hit, 0, len(res.Chunks))
	for _, c := range res.Chunks {
		excerpt := c.Content
		if len(excerpt) > 400 {
			excerpt = excerpt[:400]
		}
		hits = append(hits, hit{ID: c.ID, Collection: c.Collection, Title: c.Title, Score: c.Score, Excerpt: excerpt})
	}

	out, err := json.Marshal(hits)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// intersect keeps requested collections that are authorized; an empty
// request means all authorized collections.
func intersect(requested, allowed []string) []string {
	if len(requested) == 0 {
		return allowed
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	var out []string
	for _, r := range requested {
		if allowedSet[r] {
			out = append(out, r)
		}
	}
	return out
}
