package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stored counts entries, including ones not yet swept.
func stored[V any](c *Cache[V]) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestCache_GetPutExpire(t *testing.T) {
	c := NewCache[int](time.Minute, 0)
	defer c.Close()
	clk := &clock{t: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clk.now

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry is dead at exactly one TTL")
	assert.Equal(t, 1, stored(c), "dead entry stays until swept")

	c.evict()
	assert.Equal(t, 0, stored(c))

	c.Put("b", 2)
	c.Expire("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCache_SweeperEvicts(t *testing.T) {
	c := NewCache[string](time.Millisecond, 5*time.Millisecond)
	defer c.Close()

	c.Put("k", "v")
	assert.Eventually(t, func() bool { return stored(c) == 0 }, time.Second, 5*time.Millisecond)
}

func TestCache_CloseTwice(t *testing.T) {
	c := NewCache[int](time.Second, time.Millisecond)
	c.Close()
	c.Close()
}
