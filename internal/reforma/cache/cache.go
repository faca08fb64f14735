// Package cache provides a small get-or-load TTL cache used to avoid
// redundant catalog reads within a short window.
//
// The cache is a pure performance optimisation: every miss falls back to the
// authoritative loader, so correctness must hold with the cache disabled.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is used when a Cache is constructed with a non-positive TTL.
const DefaultTTL = 60 * time.Second

type entry struct {
	value     any
	expiresAt time.Time
}

// call tracks one in-flight load so concurrent misses on the same key wait
// for it instead of each hitting the loader.
type call struct {
	wg    sync.WaitGroup
	value any
	err   error
}

// Cache is a TTL-bounded key/value cache safe for concurrent use.
// A zero-TTL entry set is not supported; construct via New.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]entry
	inflight map[string]*call
	// disabled short-circuits Get straight to the loader. Used to prove the
	// cache never affects correctness.
	disabled bool
}

// New returns a Cache whose entries live for ttl.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:      ttl,
		entries:  make(map[string]entry),
		inflight: make(map[string]*call),
	}
}

// Disabled returns a Cache that always invokes the loader. Injected in tests
// and available as an operational escape hatch.
func Disabled() *Cache {
	c := New(DefaultTTL)
	c.disabled = true
	return c
}

// Get returns the cached value for key, invoking load on a miss or an expired
// entry and caching its result. Concurrent misses on the same key share a
// single load. Loader errors are returned as-is and nothing is cached for
// them.
func (c *Cache) Get(ctx context.Context, key string, load func(ctx context.Context) (any, error)) (any, error) {
	if c.disabled {
		return load(ctx)
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		cl.wg.Wait()
		return cl.value, cl.err
	}
	cl := &call{}
	cl.wg.Add(1)
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = load(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if cl.err == nil {
		c.entries[key] = entry{value: cl.value, expiresAt: time.Now().Add(c.ttl)}
	}
	c.mu.Unlock()
	cl.wg.Done()

	if cl.err != nil {
		return nil, cl.err
	}
	return cl.value, nil
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Flush removes every entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}
