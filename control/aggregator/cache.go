package aggregator

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// flushQueue is the unbounded FIFO an aggregation cache evicts into. Many
// goroutines push through eviction callbacks; only Flush drains.
type flushQueue[V any] struct {
	mu    sync.Mutex
	items []V
}

func (q *flushQueue[V]) push(v V) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

func (q *flushQueue[V]) drain() []V {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.mu.Unlock()
	return out
}

type cacheEntry[V any] struct {
	value   V
	written time.Time
}

// flushCache is the bounded, write-expiring fingerprint cache shared by the
// three aggregators. Entries displaced by newer insertions or aged past the
// write TTL land on the flush queue instead of vanishing, so pending
// aggregates survive eviction until the next flush drains them.
//
// A maxEntries of zero or less disables the cache entirely: lookups miss,
// insertions are dropped and flushes return nothing.
type flushCache[V any] struct {
	mu    sync.Mutex
	lru   *lru.Cache[[32]byte, *cacheEntry[V]]
	queue flushQueue[V]
	ttl   time.Duration
	now   func() time.Time

	// suppressEvict mutes the eviction callback during explicit removals.
	// Only touched with mu held; the lru fires callbacks synchronously, so
	// the flag cannot leak across operations.
	suppressEvict bool
}

func newFlushCache[V any](maxEntries int, ttl time.Duration, now func() time.Time) (*flushCache[V], error) {
	if now == nil {
		now = time.Now
	}
	c := &flushCache[V]{ttl: ttl, now: now}
	if maxEntries <= 0 {
		return c, nil
	}
	inner, err := lru.NewWithEvict(maxEntries, func(_ [32]byte, e *cacheEntry[V]) {
		if c.suppressEvict {
			return
		}
		c.queue.push(e.value)
	})
	if err != nil {
		return nil, errCacheInit
	}
	c.lru = inner
	return c, nil
}

func (c *flushCache[V]) enabled() bool {
	return c.lru != nil
}

// get returns the live entry for sig, if any. Expiry is not checked here;
// aged entries are culled by sweep so their pending state reaches the queue.
func (c *flushCache[V]) get(sig [32]byte) (V, bool) {
	var zero V
	if c.lru == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(sig)
	if !ok {
		return zero, false
	}
	return e.value, true
}

// getOrCreate returns the live entry for sig, constructing and inserting one
// via make when absent. The second result reports whether the entry already
// existed. Creation may displace the oldest entry onto the flush queue.
func (c *flushCache[V]) getOrCreate(sig [32]byte, make func() V) (V, bool) {
	var zero V
	if c.lru == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Get(sig); ok {
		return e.value, true
	}
	v := make()
	c.lru.Add(sig, &cacheEntry[V]{value: v, written: c.now()})
	return v, false
}

// put inserts or replaces the entry for sig, refreshing its write time.
func (c *flushCache[V]) put(sig [32]byte, v V) {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(sig); ok {
		e.value = v
		e.written = c.now()
		return
	}
	c.lru.Add(sig, &cacheEntry[V]{value: v, written: c.now()})
}

// remove drops sig without routing it through the flush queue.
func (c *flushCache[V]) remove(sig [32]byte) {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressEvict = true
	c.lru.Remove(sig)
	c.suppressEvict = false
}

// values snapshots the live entries in LRU order.
func (c *flushCache[V]) values() []V {
	if c.lru == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.lru.Keys()
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.lru.Peek(k); ok {
			out = append(out, e.value)
		}
	}
	return out
}

// flush evicts every entry older than the write TTL onto the queue, then
// drains the queue and returns its contents, oldest first.
func (c *flushCache[V]) flush() []V {
	if c.lru == nil {
		return nil
	}
	c.mu.Lock()
	cutoff := c.now().Add(-c.ttl)
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if ok && !e.written.After(cutoff) {
			c.lru.Remove(k)
		}
	}
	c.mu.Unlock()
	return c.queue.drain()
}

// drainAll evicts every entry onto the queue regardless of age, then drains
// the queue. Used for the final flush on shutdown.
func (c *flushCache[V]) drainAll() []V {
	if c.lru == nil {
		return nil
	}
	c.mu.Lock()
	for _, k := range c.lru.Keys() {
		c.lru.Remove(k)
	}
	c.mu.Unlock()
	return c.queue.drain()
}

// clear discards the cache and the queue without reporting the contents.
func (c *flushCache[V]) clear() {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	c.suppressEvict = true
	c.lru.Purge()
	c.suppressEvict = false
	c.mu.Unlock()
	c.queue.drain()
}

func (c *flushCache[V]) len() int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
