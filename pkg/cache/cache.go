package cache

import (
	"sort"
	"sync"

	"github.com/Sternrassler/rewind-dispatch/pkg/openalex"
)

// FetchResult is the cached outcome of one lookup.
type FetchResult struct {
	// Found is false for the explicit "none found" marker.
	Found bool
	Paper openalex.Paper
}

// None returns the "none found" marker.
func None() FetchResult {
	return FetchResult{}
}

// Found wraps a paper as a hit.
func Found(p openalex.Paper) FetchResult {
	return FetchResult{Found: true, Paper: p}
}

// Cache memoizes fetch results for a single run.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]FetchResult
}

// NewCache creates an empty run-scoped cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]FetchResult),
	}
}

// Get returns the stored result and whether the key has been fetched.
func (c *Cache) Get(key FetchKey) (FetchResult, bool) {
	c.mu.RLock()
	res, ok := c.entries[key.String()]
	c.mu.RUnlock()

	if ok {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
	return res, ok
}

// Contains reports whether key has been stored, without touching metrics.
func (c *Cache) Contains(key FetchKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key.String()]
	return ok
}

// Put stores result for key. The first write wins; it returns false when
// the key was already set.
func (c *Cache) Put(key FetchKey, result FetchResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	if _, ok := c.entries[k]; ok {
		return false
	}
	c.entries[k] = result
	CacheEntries.Inc()
	return true
}

// Len returns the number of stored keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the stored key strings in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}
