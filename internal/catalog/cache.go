package catalog

import (
	"sync"
	"sync/atomic"
	"time"
)

// toolCache is a TTL-based in-memory cache with stale-while-revalidate for
// tool definitions. Uses sync.Map for lock-free reads on the hot path.
type toolCache struct {
	store sync.Map // map[string]*toolCacheEntry
	ttl   time.Duration
}

type toolCacheEntry struct {
	tool       *ToolDefinition // nil = negative cache (tool not found)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// cacheGetResult holds the result of a cache lookup.
type cacheGetResult struct {
	Tool         *ToolDefinition // nil if not found or negative cache
	Hit          bool            // true if a value was found (fresh or stale)
	NeedsRefresh bool            // true if expired — caller should refresh in background
}

func newToolCache(ttl time.Duration) *toolCache {
	return &toolCache{ttl: ttl}
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *toolCache) Get(toolKey string) cacheGetResult {
	val, ok := c.store.Load(toolKey)
	if !ok {
		return cacheGetResult{Hit: false}
	}

	entry := val.(*toolCacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return cacheGetResult{
			Tool: entry.tool,
			Hit:  true,
		}
	}

	// Stale hit — signal refresh needed (only one goroutine wins the CAS)
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return cacheGetResult{
		Tool:         entry.tool,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a tool definition with a fresh TTL.
// Passing nil stores a negative cache entry (tool not found).
func (c *toolCache) Set(toolKey string, tool *ToolDefinition) {
	c.store.Store(toolKey, &toolCacheEntry{
		tool:      tool,
		expiresAt: time.Now().Add(c.ttl),
	})
}
