package cache

import (
	"container/list"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careaccess/go-core/pkg/types"
)

// LRU is the bounded in-process decision store (tier 1): fixed capacity,
// least-recently-used eviction, uniform TTL. TouchOnRead controls whether a
// read refreshes recency; it never extends the entry's TTL.
type LRU struct {
	capacity    int
	ttl         time.Duration
	touchOnRead bool

	items map[string]*list.Element
	order *list.List
	mu    sync.Mutex

	hits      uint64
	misses    uint64
	evictions uint64
}

type lruEntry struct {
	key       string
	value     *types.CachedDecision
	expiresAt time.Time
}

// NewLRU creates a tier-1 store
func NewLRU(capacity int, ttl time.Duration, touchOnRead bool) *LRU {
	return &LRU{
		capacity:    capacity,
		ttl:         ttl,
		touchOnRead: touchOnRead,
		items:       make(map[string]*list.Element),
		order:       list.New(),
	}
}

// Get retrieves an entry. Expired entries are removed and reported as misses.
func (c *LRU) Get(key string) (*types.CachedDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	if c.touchOnRead {
		c.order.MoveToFront(elem)
	}
	atomic.AddUint64(&c.hits, 1)
	return entry.value, true
}

// Set adds or updates an entry, evicting the oldest at capacity
func (c *LRU) Set(key string, value *types.CachedDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		if elem := c.order.Back(); elem != nil {
			c.removeElement(elem)
			atomic.AddUint64(&c.evictions, 1)
		}
	}

	entry := &lruEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.items[key] = c.order.PushFront(entry)
}

// Delete removes a key
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// DeleteMatching removes every key matching the glob pattern by linear scan
// and returns how many were removed.
func (c *LRU) DeleteMatching(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := c.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*lruEntry)
		if ok, err := path.Match(pattern, entry.key); err == nil && ok {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Clear removes all entries
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the current entry count
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns tier-1 counters
func (c *LRU) Stats() TierStats {
	return TierStats{
		Size:      c.Len(),
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
	}
}

func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}

// TierStats contains per-tier cache counters
type TierStats struct {
	Size      int     `json:"size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Errors    uint64  `json:"errors"`
	HitRate   float64 `json:"hitRate"`
}
