// Package cache implements the request-fingerprint → artifact
// ResultCache of spec §4.10, guaranteeing at-most-one concurrent
// build per fingerprint via golang.org/x/sync/singleflight — the same
// primitive the design note in spec §9 describes hand-rolling, here
// sourced directly from the ecosystem package the teacher already
// carries as a transitive dependency.
package cache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// ResultCache maps a fingerprint to a previously computed artifact.
// Concurrent readers for the same fingerprint share the in-flight
// build; independent fingerprints proceed in parallel. A failed build
// is never cached.
type ResultCache struct {
	group singleflight.Group
	mu    sync.RWMutex
	store map[string]any
}

// New returns an empty ResultCache.
func New() *ResultCache {
	return &ResultCache{store: make(map[string]any)}
}

// Get returns the cached artifact for fingerprint if present.
func (c *ResultCache) Get(fingerprint string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.store[fingerprint]
	return v, ok
}

// GetOrBuild returns the cached artifact for fingerprint, building it
// via build if absent. Concurrent calls for the same fingerprint share
// exactly one in-flight build. A build that returns an error is never
// stored, so a subsequent call retries.
func (c *ResultCache) GetOrBuild(fingerprint string, build func() (any, error)) (any, error) {
	if v, ok := c.Get(fingerprint); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		if v, ok := c.Get(fingerprint); ok {
			return v, nil
		}
		result, err := build()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.store[fingerprint] = result
		c.mu.Unlock()
		return result, nil
	})
	return v, err
}

// Invalidate drops a cached fingerprint, if present.
func (c *ResultCache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, fingerprint)
}
