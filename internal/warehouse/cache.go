package warehouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"
)

// DefaultEngineTTL bounds how long a built engine may serve after its
// template was last seen. Engines are pure functions of their template, so
// expiry is a memory concern, not a correctness one.
const DefaultEngineTTL = 30 * time.Minute

// EngineCache memoizes built engines keyed by warehouse id and template
// digest. Two templates that differ in any dimension or area produce
// different digests, so a stale engine can never answer for an edited
// template; Invalidate exists for callers that want reloads to drop the old
// entries eagerly instead of letting them age out.
type EngineCache struct {
	store *cache.Cache
}

// NewEngineCache builds a cache with the given TTL; non-positive values fall
// back to DefaultEngineTTL.
func NewEngineCache(ttl time.Duration) *EngineCache {
	if ttl <= 0 {
		ttl = DefaultEngineTTL
	}
	return &EngineCache{store: cache.New(ttl, 2*ttl)}
}

// Get returns the engine for a template, building and storing it on first
// sight. The second return reports whether the engine came from cache.
func (c *EngineCache) Get(t Template) (*Engine, bool, error) {
	key, err := engineKey(t)
	if err != nil {
		return nil, false, err
	}
	if cached, ok := c.store.Get(key); ok {
		return cached.(*Engine), true, nil
	}
	engine, err := NewEngine(t)
	if err != nil {
		return nil, false, err
	}
	c.store.Set(key, engine, cache.DefaultExpiration)
	return engine, false, nil
}

// Invalidate drops every cached engine for one warehouse.
func (c *EngineCache) Invalidate(warehouseID string) {
	prefix := warehouseID + "@"
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
		}
	}
}

// Flush drops all cached engines.
func (c *EngineCache) Flush() { c.store.Flush() }

// Len reports the number of cached engines, expired entries included until
// the janitor collects them.
func (c *EngineCache) Len() int { return c.store.ItemCount() }

func engineKey(t Template) (string, error) {
	digest, err := hashstructure.Hash(t, hashstructure.FormatV2, &hashstructure.HashOptions{SlicesAsSets: true})
	if err != nil {
		return "", fmt.Errorf("warehouse: digest template %s: %w", t.WarehouseID, err)
	}
	return fmt.Sprintf("%s@%016x", t.WarehouseID, digest), nil
}
