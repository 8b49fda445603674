// ABOUTME: Thread-safe TTL cache for suppressing duplicate keys.
// ABOUTME: Backs cast redelivery detection and handshake nonce replay checks.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cleanupInterval is how often the background sweep removes expired entries.
const cleanupInterval = 30 * time.Second

// entry tracks when a key stops counting as a duplicate, plus its position
// in the eviction order.
type entry struct {
	expiresAt time.Time
	element   *list.Element
}

// Cache remembers keys for a TTL window, bounded by a maximum size. When the
// cache is full the key remembered longest ago is evicted first. All methods
// are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys, oldest at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a Cache with the given TTL and maximum size and starts its
// background cleanup goroutine. Callers must Close the cache when done.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Duplicate atomically reports whether key was seen within the TTL window and
// remembers it either way. The first caller for a fresh key gets false; every
// caller inside the window after that gets true. The atomicity matters: two
// concurrent deliveries of the same cast must not both win.
func (c *Cache) Duplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		return true
	}
	c.remember(key, now)
	return false
}

// Contains reports whether key is currently remembered, without updating it.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && time.Now().Before(e.expiresAt)
}

// Remember records key without reporting duplicate status. An existing key
// has its window refreshed and moves to the back of the eviction order.
func (c *Cache) Remember(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remember(key, time.Now())
}

// remember inserts or refreshes a key. Caller holds mu.
func (c *Cache) remember(key string, now time.Time) {
	if e, ok := c.entries[key]; ok {
		e.expiresAt = now.Add(c.ttl)
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &entry{
		expiresAt: now.Add(c.ttl),
		element:   c.order.PushBack(key),
	}
}

// evictOldest drops the front of the order list. Caller holds mu.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// sweep periodically removes expired entries so the map does not hold dead
// keys for the full eviction cycle.
func (c *Cache) sweep() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops every entry whose window has passed.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
