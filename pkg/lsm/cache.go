package lsm

import (
	"container/list"
	"sync"

	"github.com/dd0wney/onechain/pkg/digest"
)

// LookupCache is an LRU cache of segment lookup results. Negative results
// are cached too; any new segment invalidates them via Clear.
type LookupCache struct {
	mu       sync.RWMutex
	capacity int
	cache    map[digest.Digest]*list.Element
	lru      *list.List
	gen      uint64 // bumped by Clear

	// Statistics
	hits   int64
	misses int64
}

type cacheEntry struct {
	key    digest.Digest
	record Record
	found  bool
}

// NewLookupCache creates a new LRU lookup cache
func NewLookupCache(capacity int) *LookupCache {
	return &LookupCache{
		capacity: capacity,
		cache:    make(map[digest.Digest]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached result for d. ok is false on a cache miss; found
// is the cached lookup outcome.
func (lc *LookupCache) Get(d digest.Digest) (rec Record, found, ok bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if elem, hit := lc.cache[d]; hit {
		// Move to front (most recently used)
		lc.lru.MoveToFront(elem)
		lc.hits++
		entry := elem.Value.(*cacheEntry)
		return entry.record, entry.found, true
	}

	lc.misses++
	return Record{}, false, false
}

// Put caches a lookup result
func (lc *LookupCache) Put(d digest.Digest, rec Record, found bool) {
	if lc.capacity <= 0 {
		return
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.putLocked(d, rec, found)
}

// PutIfCurrent caches a lookup result computed while the cache was at
// generation gen. Results computed before a Clear are dropped.
func (lc *LookupCache) PutIfCurrent(gen uint64, d digest.Digest, rec Record, found bool) bool {
	if lc.capacity <= 0 {
		return false
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if gen != lc.gen {
		return false
	}
	lc.putLocked(d, rec, found)
	return true
}

// Generation returns a counter that changes on every Clear
func (lc *LookupCache) Generation() uint64 {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.gen
}

func (lc *LookupCache) putLocked(d digest.Digest, rec Record, found bool) {
	if elem, ok := lc.cache[d]; ok {
		lc.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.record, entry.found = rec, found
		return
	}

	elem := lc.lru.PushFront(&cacheEntry{key: d, record: rec, found: found})
	lc.cache[d] = elem

	if lc.lru.Len() > lc.capacity {
		lc.evict()
	}
}

// evict removes the least recently used entry
func (lc *LookupCache) evict() {
	elem := lc.lru.Back()
	if elem != nil {
		lc.lru.Remove(elem)
		delete(lc.cache, elem.Value.(*cacheEntry).key)
	}
}

// Clear removes all entries but keeps statistics
func (lc *LookupCache) Clear() {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.cache = make(map[digest.Digest]*list.Element)
	lc.lru = list.New()
	lc.gen++
}

// Stats returns cache statistics
func (lc *LookupCache) Stats() (hits, misses int64, hitRate float64) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	hits = lc.hits
	misses = lc.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// Size returns the current number of entries
func (lc *LookupCache) Size() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lru.Len()
}

// Delete removes an entry from the cache
func (lc *LookupCache) Delete(d digest.Digest) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if elem, ok := lc.cache[d]; ok {
		lc.lru.Remove(elem)
		delete(lc.cache, d)
	}
}
