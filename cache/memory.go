package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/willibrandon/composer-prefetch/observability"
)

// Entry represents a cached value with metadata.
type Entry[V any] struct {
	Value  V
	Expiry time.Time
	Size   int
}

// IsExpired checks if the entry has exceeded its TTL. A zero Expiry never expires.
func (e *Entry[V]) IsExpired() bool {
	return !e.Expiry.IsZero() && time.Now().After(e.Expiry)
}

// MemoryCache is an LRU cache with TTL support, bounded by entry count
// and by the caller-reported size of its values.
type MemoryCache[V any] struct {
	maxEntries int
	maxSize    int64

	mu        sync.Mutex
	entries   map[string]*list.Element
	lruList   *list.List
	totalSize int64
}

type lruEntry[V any] struct {
	key   string
	entry *Entry[V]
}

// NewMemoryCache creates a new LRU memory cache.
func NewMemoryCache[V any](maxEntries int, maxSize int64) *MemoryCache[V] {
	return &MemoryCache[V]{
		maxEntries: maxEntries,
		maxSize:    maxSize,
		entries:    make(map[string]*list.Element),
		lruList:    list.New(),
	}
}

// Get retrieves a value from the cache.
// Returns (value, true) if found and not expired.
func (mc *MemoryCache[V]) Get(key string) (V, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	var zero V
	elem, ok := mc.entries[key]
	if !ok {
		observability.CacheMissesTotal.WithLabelValues("memory").Inc()
		return zero, false
	}

	lruEnt := elem.Value.(*lruEntry[V])
	if lruEnt.entry.IsExpired() {
		mc.removeElement(elem)
		observability.CacheMissesTotal.WithLabelValues("memory").Inc()
		return zero, false
	}

	mc.lruList.MoveToFront(elem)
	observability.CacheHitsTotal.WithLabelValues("memory").Inc()
	return lruEnt.entry.Value, true
}

// Set adds or updates a value. size is the value's weight against maxSize;
// ttl <= 0 keeps the entry until it is evicted.
func (mc *MemoryCache[V]) Set(key string, value V, size int, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}

	if elem, ok := mc.entries[key]; ok {
		lruEnt := elem.Value.(*lruEntry[V])
		mc.totalSize += int64(size - lruEnt.entry.Size)
		lruEnt.entry.Value = value
		lruEnt.entry.Expiry = expiry
		lruEnt.entry.Size = size
		mc.lruList.MoveToFront(elem)
	} else {
		elem := mc.lruList.PushFront(&lruEntry[V]{
			key:   key,
			entry: &Entry[V]{Value: value, Expiry: expiry, Size: size},
		})
		mc.entries[key] = elem
		mc.totalSize += int64(size)
	}

	mc.evictIfNeeded()
}

// Delete removes a key from the cache.
func (mc *MemoryCache[V]) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if elem, ok := mc.entries[key]; ok {
		mc.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (mc *MemoryCache[V]) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entries = make(map[string]*list.Element)
	mc.lruList = list.New()
	mc.totalSize = 0
}

// Stats returns cache statistics.
func (mc *MemoryCache[V]) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	return Stats{
		Entries:   len(mc.entries),
		SizeBytes: mc.totalSize,
	}
}

// removeElement removes an element from the cache (must hold lock).
func (mc *MemoryCache[V]) removeElement(elem *list.Element) {
	lruEnt := elem.Value.(*lruEntry[V])
	delete(mc.entries, lruEnt.key)
	mc.lruList.Remove(elem)
	mc.totalSize -= int64(lruEnt.entry.Size)
}

// evictIfNeeded evicts least recently used entries until within limits.
func (mc *MemoryCache[V]) evictIfNeeded() {
	for mc.maxEntries > 0 && mc.lruList.Len() > mc.maxEntries {
		mc.removeElement(mc.lruList.Back())
	}
	for mc.maxSize > 0 && mc.totalSize > mc.maxSize && mc.lruList.Len() > 0 {
		mc.removeElement(mc.lruList.Back())
	}
}

// Stats holds cache statistics.
type Stats struct {
	Entries   int
	SizeBytes int64
}
