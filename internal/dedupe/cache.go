package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key string
	ts  time.Time
}

// Cache remembers recently archived document IDs, bounded by capacity and ttl.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = oldest
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// IsSeen returns true when the key has been marked inside the ttl window.
// It does not mark the key; use MarkSeen once the key has been processed.
func (c *Cache) IsSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	return c.now().Sub(el.Value.(*entry).ts) <= c.ttl
}

// MarkSeen records that a key has been processed, refreshing its timestamp.
func (c *Cache) MarkSeen(key string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).ts = now
		c.order.MoveToBack(el)
	} else {
		c.items[key] = c.order.PushBack(&entry{key: key, ts: now})
	}
	c.compact(now)
}

// Len returns the number of tracked keys, expired ones included until the
// next MarkSeen compacts them.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		e := el.Value.(*entry)
		if len(c.items) <= c.capacity && !e.ts.Before(cutoff) {
			return
		}
		c.order.Remove(el)
		delete(c.items, e.key)
	}
}
