// Package cache provides a generic loader cache: a bounded LRU in front of a
// load callback, with concurrent misses for one key collapsed into a single load.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// LoaderCache memoizes the result of an expensive load (a dataset fetch, a model
// call) by key. Keys are mapped to strings via keyToString for the LRU and the
// singleflight group. Failed loads are never cached.
type LoaderCache[K comparable, V any] struct {
	lru         *lru.Cache[string, V]
	group       singleflight.Group
	keyToString func(K) string
}

// LoadFunc produces the value for a key on a cache miss.
type LoadFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// NewLoaderCache creates a loader cache with the given max entries and key serializer.
func NewLoaderCache[K comparable, V any](maxEntries int, keyToString func(K) string) (*LoaderCache[K, V], error) {
	lruCache, err := lru.New[string, V](maxEntries)
	if err != nil {
		return nil, err
	}

	return &LoaderCache[K, V]{
		lru:         lruCache,
		keyToString: keyToString,
	}, nil
}

// Get returns the value for key, loading it on a miss.
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K, load LoadFunc[K, V]) (V, error) {
	v, _, err := c.GetWithStats(ctx, key, load)

	return v, err
}

// GetWithStats is like Get and also reports whether the value was served from the cache.
// Callers that lose the singleflight race share the winner's result and report a miss.
func (c *LoaderCache[K, V]) GetWithStats(ctx context.Context, key K, load LoadFunc[K, V]) (V, bool, error) {
	keyStr := c.keyToString(key)
	if v, ok := c.lru.Get(keyStr); ok {
		return v, true, nil
	}

	v, err := c.load(ctx, keyStr, key, load)

	return v, false, err
}

func (c *LoaderCache[K, V]) load(ctx context.Context, keyStr string, key K, load LoadFunc[K, V]) (V, error) {
	val, err, _ := c.group.Do(keyStr, func() (any, error) {
		// Another caller may have populated the entry between our miss and Do.
		if v, ok := c.lru.Get(keyStr); ok {
			return v, nil
		}

		loaded, loadErr := load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}

		c.lru.Add(keyStr, loaded)

		return loaded, nil
	})
	if err != nil {
		var z V

		return z, err
	}

	return val.(V), nil
}

// Contains reports whether key is cached without loading it or touching recency.
func (c *LoaderCache[K, V]) Contains(key K) bool {
	return c.lru.Contains(c.keyToString(key))
}

// Invalidate removes the entry for key.
func (c *LoaderCache[K, V]) Invalidate(key K) {
	c.lru.Remove(c.keyToString(key))
}

// InvalidateAll removes all entries.
func (c *LoaderCache[K, V]) InvalidateAll() {
	c.lru.Purge()
}

// Len returns the number of entries in the cache.
func (c *LoaderCache[K, V]) Len() int {
	return c.lru.Len()
}
