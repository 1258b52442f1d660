// ABOUTME: Thread-safe TTL window for dropping duplicate relay frames
// ABOUTME: Size-bounded with oldest-first eviction and an injectable clock

package dedupe

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCleanupInterval is how often expired ids are swept.
const DefaultCleanupInterval = time.Minute

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Option configures a Cache.
type Option func(*Cache)

// WithCleanupInterval sets the sweep period. Zero disables the sweeper.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Cache) { c.cleanupEvery = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache remembers ids for ttl, holding at most maxSize of them. When full,
// the least recently seen id is evicted. Insertion order lives in a linked
// list so eviction is O(1).
type Cache struct {
	mu    sync.Mutex
	seen  map[string]*entry
	order *list.List // oldest at front

	ttl          time.Duration
	maxSize      int
	cleanupEvery time.Duration
	now          func() time.Time

	duplicates atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its sweeper.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:         make(map[string]*entry),
		order:        list.New(),
		ttl:          ttl,
		maxSize:      maxSize,
		cleanupEvery: DefaultCleanupInterval,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cleanupEvery > 0 {
		go c.sweep()
	}
	return c
}

// Seen reports whether id was remembered within the ttl.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(id)
}

// Remember records id, refreshing it if already present.
func (c *Cache) Remember(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberLocked(id)
}

// Observe records id and reports whether it was already live, in one step.
// true means duplicate.
func (c *Cache) Observe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(id) {
		c.duplicates.Add(1)
		return true
	}
	c.rememberLocked(id)
	return false
}

// Len returns the number of remembered ids, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Duplicates returns how many Observe calls reported a duplicate.
func (c *Cache) Duplicates() uint64 { return c.duplicates.Load() }

func (c *Cache) liveLocked(id string) bool {
	e, ok := c.seen[id]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

func (c *Cache) rememberLocked(id string) {
	now := c.now()
	if e, ok := c.seen[id]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}
	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(string))
		}
	}
	c.seen[id] = &entry{seenAt: now, element: c.order.PushBack(id)}
}

// Expire drops every id older than the ttl and returns how many were dropped.
func (c *Cache) Expire() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	// The list is ordered by last sighting, so stop at the first live id.
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		id := front.Value.(string)
		if now.Sub(c.seen[id].seenAt) < c.ttl {
			break
		}
		c.order.Remove(front)
		delete(c.seen, id)
		dropped++
	}
	return dropped
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(c.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Expire()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
