package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/balizero/nuzantara/pkg/llms"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// Reranker reorders candidates by relevance to the original query.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error)
}

// Generator is the slice of the LLM gateway the reranker needs.
type Generator interface {
	Generate(ctx context.Context, modelTier string, req llms.Request) (string, []*protocol.ToolCall, int, error)
}

// LLMReranker reorders candidates with a listwise prompt against a cheap
// model tier. A cross-encoder service would slot in behind the same
// interface.
type LLMReranker struct {
	gateway   Generator
	modelTier string
}

func NewLLMReranker(gateway Generator, modelTier string) *LLMReranker {
	if modelTier == "" {
		modelTier = "fast"
	}
	return &LLMReranker{gateway: gateway, modelTier: modelTier}
}

const rerankSystemPrompt = `You rank document passages by relevance to a query.
Reply with ONLY a JSON array of passage numbers, most relevant first, e.g. [2,0,1].
Include every passage number exactly once.`

func (r *LLMReranker) Rerank(ctx context.Context, query string, chunks []Chunk) ([]Chunk, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nPassages:\n", query)
	for i, c := range chunks {
		excerpt := c.Content
		if len(excerpt) > 500 {
			excerpt = excerpt[:500]
		}
		fmt.Fprintf(&b, "[%d] %s\n\n", i, excerpt)
	}

	text, _, _, err := r.gateway.Generate(ctx, r.modelTier, llms.Request{
		System:   rerankSystemPrompt,
		Messages: []protocol.Message{protocol.NewUserMessage(b.String())},
	})
	if err != nil {
		return nil, fmt.Errorf("rerank generation failed: %w", err)
	}

	order, err := parseRankOrder(text, len(chunks))
	if err != nil {
		return nil, err
	}

	reranked := make([]Chunk, 0, len(chunks))
	for rank, idx := range order {
		c := chunks[idx]
		c.RerankScore = 1.0 - float32(rank)/float32(len(order))
		reranked = append(reranked, c)
	}
	return reranked, nil
}

// parseRankOrder extracts the JSON index array from the model reply and
// validates it is a permutation of [0,n). Missing indexes are appended in
// original order; duplicates and out-of-range values are rejected.
func parseRankOrder(text string, n int) ([]int, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in rerank reply")
	}

	var order []int
	if err := json.Unmarshal([]byte(text[start:end+1]), &order); err != nil {
		return nil, fmt.Errorf("malformed rerank reply: %w", err)
	}

	seen := make(map[int]bool, n)
	valid := make([]int, 0, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return nil, fmt.Errorf("rerank reply is not a permutation")
		}
		seen[idx] = true
		valid = append(valid, idx)
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			valid = append(valid, i)
		}
	}
	return valid, nil
}
