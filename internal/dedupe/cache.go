// ABOUTME: Thread-safe TTL cache of idempotent request outcomes.
// ABOUTME: Tracks in-flight keys and stores finished responses for replay.

package dedupe

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

// Outcome is what Begin found for a key.
type Outcome int

const (
	// Started means the key was new and is now marked in flight.
	Started Outcome = iota
	// InFlight means another request with the same key has not finished.
	InFlight
	// Replay means the key finished earlier and its response is returned.
	Replay
)

// Response is a stored HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// cacheEntry stores the timestamp, outcome and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	response  *Response // nil while in flight
}

// Stats summarizes cache contents for diagnostics.
type Stats struct {
	Entries  int   `json:"entries"`
	InFlight int   `json:"in_flight"`
	Replays  int64 `json:"replays"`
	MaxSize  int   `json:"max_size"`
}

// Cache provides a thread-safe, TTL-based, size-limited store of request
// outcomes keyed by idempotency key. Uses a doubly-linked list to maintain
// insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	replays int64
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a new cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Begin atomically checks key and marks it in flight if it is new or
// expired. For Replay the stored response is returned.
func (c *Cache) Begin(key string) (Outcome, *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && c.now().Sub(entry.timestamp) < c.ttl {
		if entry.response == nil {
			return InFlight, nil
		}
		c.replays++
		return Replay, entry.response
	}

	c.markLocked(key)
	return Started, nil
}

// Complete stores the response for a key previously returned as Started.
func (c *Cache) Complete(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok {
		return // evicted while in flight
	}
	entry.response = resp
	entry.timestamp = c.now()
	c.order.MoveToBack(entry.element)
}

// Abort forgets key so the client may retry it, used when the handler
// failed with a server error.
func (c *Cache) Abort(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Stats returns a snapshot of the cache.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Entries: len(c.seen), Replays: c.replays, MaxSize: c.maxSize}
	for _, e := range c.seen {
		if e.response == nil {
			s.InFlight++
		}
	}
	return s
}

// markLocked adds key as in flight. Must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := c.now()

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.response = nil
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
