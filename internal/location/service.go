package location

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the canonical-form cache when no size is configured.
const DefaultCacheSize = 10000

// Service memoizes Parse behind a bounded LRU keyed by the verbatim input.
// Inventory snapshots repeat the same handful of spellings thousands of
// times, so the cache turns normalization into a map hit on the hot path.
// Eviction is always safe: entries are pure functions of their key.
type Service struct {
	cache  *lru.Cache[string, Canonical]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewService builds a Service with the given cache capacity. Sizes below 1
// fall back to DefaultCacheSize.
func NewService(size int) *Service {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, Canonical](size) // size is guarded positive
	return &Service{cache: cache}
}

// Canonical normalizes a raw code through the cache.
func (s *Service) Canonical(raw string) Canonical {
	if c, ok := s.cache.Get(raw); ok {
		s.hits.Add(1)
		return c
	}
	c := Parse(raw)
	s.cache.Add(raw, c)
	s.misses.Add(1)
	return c
}

// Variants normalizes a raw code and expands its search variants.
func (s *Service) Variants(raw string) []string {
	return SearchVariants(s.Canonical(raw))
}

// Len reports the number of cached entries.
func (s *Service) Len() int { return s.cache.Len() }

// Stats reports cumulative cache hits and misses.
func (s *Service) Stats() (hits, misses uint64) {
	return s.hits.Load(), s.misses.Load()
}
