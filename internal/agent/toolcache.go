package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ToolCache provides TTL-based caching for results of read-only tools.
// Transcripts never change once stored, so repeated get_transcript calls
// across chat turns can be served from memory.
type ToolCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	output    string
	expiresAt time.Time
}

// DefaultToolCacheTTL is the default cache lifetime for tool results.
const DefaultToolCacheTTL = 10 * time.Minute

// NewToolCache creates a cache with the given TTL.
func NewToolCache(ttl time.Duration) *ToolCache {
	if ttl <= 0 {
		ttl = DefaultToolCacheTTL
	}
	return &ToolCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a cached result if available and not expired.
func (c *ToolCache) Get(scope, toolName string, params map[string]any) (string, bool) {
	if c == nil {
		return "", false
	}
	key := cacheKey(scope, toolName, params)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.output, true
}

// Set stores a tool result in the cache.
func (c *ToolCache) Set(scope, toolName string, params map[string]any, output string) {
	if c == nil {
		return
	}
	key := cacheKey(scope, toolName, params)
	c.mu.Lock()
	c.entries[key] = cacheEntry{
		output:    output,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (c *ToolCache) Sweep() int {
	if c == nil {
		return 0
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *ToolCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cacheKey creates a deterministic key from scope, tool name and parameters.
// json.Marshal sorts map keys, so equal parameter maps hash identically.
func cacheKey(scope, toolName string, params map[string]any) string {
	data, _ := json.Marshal(params)
	h := sha256.Sum256(append([]byte(scope+"|"+toolName+"|"), data...))
	return fmt.Sprintf("%x", h[:16])
}
