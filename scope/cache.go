package scope

import (
	"context"
	"sync"

	perrors "github.com/jmgilman/go/errors"

	"github.com/IvanBrykalov/scopecache/internal/singleflight"
)

// Cache maps binding keys to realized values for exactly one owner
// (a container, a session, a request, or a pending initialization).
//
// Entries are write-once: the first value stored under a key is kept for
// the cache's whole lifetime. Nothing is removed individually; the whole
// cache is retired when its owner goes away, and only its map storage
// returns to the Pool. A retired *Cache stays dead: reads miss and
// GetOrCreate panics, so a handle kept past its owner's end can never
// write into storage leased to someone else.
//
// The mutex guards the map, not the factories. Factories run unlocked so
// they may resolve further keys in the same cache while building an
// object graph. Concurrent misses on one key share a single factory run.
type Cache struct {
	mu     sync.Mutex
	m      map[Key]any // nil once retired
	flight singleflight.Group[Key, any]
}

func newCache(capacity int) *Cache {
	return &Cache{m: make(map[Key]any, capacity)}
}

// building marks a key whose factory is running further up the ctx chain.
type building struct {
	cache  *Cache
	key    Key
	parent *building
}

type buildingKey struct{}

func (b *building) has(c *Cache, k Key) bool {
	for ; b != nil; b = b.parent {
		if b.cache == c && b.key == k {
			return true
		}
	}
	return false
}

// GetOrCreate returns the value stored under k, invoking f and storing its
// result when k is absent. A failing factory stores nothing.
//
// It panics with a *ProtocolError when the cache is retired or when f,
// directly or through other keys, resolves k again with the ctx it was
// given.
func (c *Cache) GetOrCreate(ctx context.Context, k Key, f Factory) (any, error) {
	v, _, err := c.getOrCreate(ctx, k, f)
	return v, err
}

// getOrCreate is GetOrCreate that also reports whether the value was
// already present. A caller waiting on another's factory gives up when
// ctx is done.
func (c *Cache) getOrCreate(ctx context.Context, k Key, f Factory) (v any, hit bool, err error) {
	c.mu.Lock()
	if c.m == nil {
		c.mu.Unlock()
		panic(violation("resolve", perrors.CodeConflict, "cache already retired", k))
	}
	v, ok := c.m[k]
	c.mu.Unlock()
	if ok {
		return v, true, nil
	}

	parent, _ := ctx.Value(buildingKey{}).(*building)
	if parent.has(c, k) {
		panic(violation("resolve", perrors.CodeConflict, "cyclic resolve", k))
	}
	fctx := context.WithValue(ctx, buildingKey{}, &building{cache: c, key: k, parent: parent})

	created := false
	v, _, err = c.flight.Do(ctx, k, func() (any, error) {
		// A previous flight may have finished between the lookup and Do.
		if v, ok := c.Get(k); ok {
			return v, nil
		}
		nv, err := f(fctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.m == nil {
			panic(violation("resolve", perrors.CodeConflict, "cache retired while building", k))
		}
		c.m[k] = nv
		created = true
		return nv, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, !created, nil
}

// Get returns the value stored under k without creating it.
func (c *Cache) Get(k Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[k]
	return v, ok
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Retired reports whether the cache's owner has ended.
func (c *Cache) Retired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m == nil
}

// values snapshots the stored values.
func (c *Cache) values() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, 0, len(c.m))
	for _, v := range c.m {
		out = append(out, v)
	}
	return out
}

// retire detaches the map from c, leaving c permanently dead. It reports
// false when c was already retired.
func (c *Cache) retire() (map[Key]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.m
	c.m = nil
	return m, m != nil
}
