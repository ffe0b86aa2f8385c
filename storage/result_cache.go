package storage

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"custodian/core"
)

// DefaultResultCacheSize is used when a non-positive size is configured
const DefaultResultCacheSize = 256

// ResultCache keeps the most recently finished analyses in memory.
// Cached results are terminal and must not be modified by readers.
type ResultCache struct {
	cache *lru.Cache[string, *core.AnalysisResult]
}

// NewResultCache creates an LRU cache holding up to size results
func NewResultCache(size int) (*ResultCache, error) {
	if size <= 0 {
		size = DefaultResultCacheSize
	}
	cache, err := lru.New[string, *core.AnalysisResult](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &ResultCache{cache: cache}, nil
}

// Add caches a result under its analysis id
func (c *ResultCache) Add(result *core.AnalysisResult) {
	if result == nil || result.AnalysisID == "" {
		return
	}
	c.cache.Add(result.AnalysisID, result)
}

// Get returns a cached result
func (c *ResultCache) Get(analysisID string) (*core.AnalysisResult, bool) {
	return c.cache.Get(analysisID)
}

// Len returns the number of cached results
func (c *ResultCache) Len() int {
	return c.cache.Len()
}
