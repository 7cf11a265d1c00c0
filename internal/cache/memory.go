// Package cache implements the two-tier cache: a bounded in-memory LRU
// (this file) fronting a size-bounded on-disk store with randomized
// eviction (disk.go).
package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/imaged/imaged-go/internal/fingerprint"
	"github.com/imaged/imaged-go/internal/imgref"
)

// ErrZeroMaxBytes is returned by NewMemCache when max_bytes is 0, per
// spec.md §4.2's configuration-error requirement.
var ErrZeroMaxBytes = errors.New("cache: max bytes for memory cache must be greater than 0")

// Entry is what MemCache stores: the shared output buffer plus whatever
// metadata the pipeline needs to reconstruct a response without touching
// disk. Fields mirror ImageOutput minus the buffer, which lives in Buf.
type Entry struct {
	Buf        *imgref.Ref
	Format     fingerprint.OutputFormat
	Width      int
	Height     int
	OrigSize   int64
	OrigFormat fingerprint.OutputFormat
	OrigWidth  int
	OrigHeight int
}

func (e Entry) size() int {
	return e.Buf.Len()
}

// MemCache is a bounded in-memory LRU keyed by fingerprint.Key, with the
// recency list exactly mirroring
// _examples/original_source/src/cache/memory.rs: a Rust lru::LruCache
// wrapped in a manual byte-budget loop. hashicorp/golang-lru/v2's
// simplelru.LRU plays the same exact-recency role here.
type MemCache struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[fingerprint.Key, Entry]
	maxSize int64
	size    int64
}

// NewMemCache constructs a MemCache with the given byte budget. maxBytes
// must be greater than 0; violating that is a construction-time
// configuration error, not a runtime one.
func NewMemCache(maxBytes int64) (*MemCache, error) {
	if maxBytes <= 0 {
		return nil, ErrZeroMaxBytes
	}
	// No onEvict callback is registered, and simplelru's own capacity is
	// set effectively unbounded (1<<31 - 1) because eviction is driven by
	// our own byte budget in Set, not by item count.
	lru, err := simplelru.NewLRU[fingerprint.Key, Entry](unboundedCapacity, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: constructing underlying lru: %w", err)
	}
	return &MemCache{lru: lru, maxSize: maxBytes}, nil
}

const unboundedCapacity = 1<<31 - 1

// Get returns a cheap clone of the cached entry for fp, promoting its
// recency. ok is false on a miss.
func (c *MemCache) Get(fp fingerprint.Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(fp)
	if !ok {
		return Entry{}, false
	}
	e.Buf = e.Buf.Clone()
	return e, true
}

// Set inserts entry under fp, replacing any prior entry and adjusting the
// tracked byte total, then evicts LRU-tail entries while size exceeds
// max_bytes. If the LRU becomes empty before the budget is satisfied the
// last (oversized) entry is retained — per spec.md §4.2 and §9's resolved
// open question, this is intentional, not a bug.
func (c *MemCache) Set(fp fingerprint.Key, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.size += int64(entry.size())
	if old, had := c.lru.Peek(fp); had {
		c.size = checkedSub(c.size, int64(old.size()), "replacing item in memory lru")
	}
	c.lru.Add(fp, entry)

	for c.size > c.maxSize {
		evictKey, evictVal, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		_ = evictKey
		c.size = checkedSub(c.size, int64(evictVal.size()), "removing from memory lru")
	}
}

// Size reports the current tracked byte total, for tests and metrics.
func (c *MemCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// checkedSub performs a - b, panicking with context if the result would
// underflow. spec.md requires the implementation to "abort or surface a
// fatal error rather than silently wrapping" on size-accounting bugs.
func checkedSub(a, b int64, context string) int64 {
	if b > a {
		panic(fmt.Sprintf("cache: size accounting underflow %s: %d - %d", context, a, b))
	}
	return a - b
}
