package jobs

import (
	"sync"
	"time"
)

// Cache is a process-wide map whose entries expire after a fixed TTL. One
// sweeper goroutine owns eviction; callers only Get, Put and Expire.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry[V]

	stop chan struct{}
	once sync.Once
}

type cacheEntry[V any] struct {
	value   V
	expires time.Time
}

// NewCache starts a cache sweeping every interval. Close stops the sweeper.
func NewCache[V any](ttl, interval time.Duration) *Cache[V] {
	c := &Cache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry[V]),
		stop:    make(chan struct{}),
	}
	if interval > 0 {
		go c.sweep(interval)
	}
	return c
}

// Get returns the live value of key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key for one TTL.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Expire drops key immediately.
func (c *Cache[V]) Expire(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache[V]) evict() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *Cache[V]) sweep(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.evict()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}
