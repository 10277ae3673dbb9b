package retrieval

import (
	"fmt"

	"github.com/google/uuid"
)

// ChunkID derives the deterministic UUID for a chunk from its collection
// namespace and semantic key. Identical inputs always produce the same id,
// which is what makes external re-ingestion idempotent.
func ChunkID(namespace, semanticKey string) (string, error) {
	ns, err := uuid.Parse(namespace)
	if err != nil {
		return "", fmt.Errorf("invalid collection namespace %q: %w", namespace, err)
	}
	if semanticKey == "" {
		return "", fmt.Errorf("semantic key cannot be empty")
	}
	return uuid.NewSHA1(ns, []byte(semanticKey)).String(), nil
}
