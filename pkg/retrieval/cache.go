package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/balizero/nuzantara/pkg/protocol"
)

var cacheNormRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// Fingerprint computes the cache key for a query under a route decision.
// The key embeds the route (collections, tier, language) as a plain prefix
// so Purge can target a collection without hashing games.
func Fingerprint(query string, decision protocol.RouteDecision) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	normalized = cacheNormRe.ReplaceAllString(normalized, "")
	normalized = strings.Join(strings.Fields(normalized), " ")

	sum := sha256.Sum256([]byte(normalized))
	return strings.Join(decision.Collections, ",") + "|" +
		string(decision.Tier) + "|" +
		decision.Language + "|" +
		hex.EncodeToString(sum[:16])
}

type cacheEntry struct {
	pack      *protocol.EvidencePack
	expiresAt time.Time
}

// SemanticCache stores verified answers keyed by query fingerprint.
// Last writer wins per key; entries expire after the TTL and the oldest
// entry is evicted once the cache is full.
type SemanticCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int

	now func() time.Time
}

func NewSemanticCache(ttl time.Duration, maxEntries int) *SemanticCache {
	return &SemanticCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *SemanticCache) Get(key string) (*protocol.EvidencePack, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.pack, true
}

func (c *SemanticCache) Set(key string, pack *protocol.EvidencePack) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = cacheEntry{pack: pack, expiresAt: c.now().Add(c.ttl)}
}

// Purge removes every entry whose key starts with prefix and returns the
// number removed. An empty prefix clears the cache.
func (c *SemanticCache) Purge(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest drops the entry closest to expiry. Caller holds the lock.
func (c *SemanticCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
