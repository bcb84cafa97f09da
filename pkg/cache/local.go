// Package cache implements a two-tier byte cache: a bounded in-process LRU in
// front of an optional shared store, with a separate stale namespace kept for
// fallback reads.
package cache

import (
	"bytes"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Local is a size-bounded LRU with per-entry TTL. Safe for concurrent use.
// Values are copied on Set and on Get; callers own the slices they pass
// and receive.
type Local struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, entry]
	capacity int
	now      func() time.Time
}

// SnapshotEntry represents a point-in-time cache entry for debugging.
type SnapshotEntry struct {
	Key       string
	Size      int
	ExpiresAt time.Time
}

// NewLocal creates a local tier holding at most capacity entries.
func NewLocal(capacity int) *Local {
	if capacity <= 0 {
		capacity = 1000
	}
	lru, err := simplelru.NewLRU[string, entry](capacity, nil)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &Local{lru: lru, capacity: capacity, now: time.Now}
}

// Get returns a live value. Expired entries are dropped on read.
func (l *Local) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !l.now().Before(e.expiresAt) {
		l.lru.Remove(key)
		return nil, false
	}
	return bytes.Clone(e.value), true
}

// Set stores value for ttl, evicting the least recently used entry when full.
func (l *Local) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	l.mu.Lock()
	l.lru.Add(key, entry{value: bytes.Clone(value), expiresAt: l.now().Add(ttl)})
	l.mu.Unlock()
}

func (l *Local) Delete(key string) {
	l.mu.Lock()
	l.lru.Remove(key)
	l.mu.Unlock()
}

func (l *Local) Purge() {
	l.mu.Lock()
	l.lru.Purge()
	l.mu.Unlock()
}

// Len counts stored entries, including ones that expired but were not yet read.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

func (l *Local) Capacity() int {
	return l.capacity
}

// Snapshot returns a copy of current cache entries for debugging/inspection.
func (l *Local) Snapshot() []SnapshotEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := l.lru.Keys()
	out := make([]SnapshotEntry, 0, len(keys))
	for _, k := range keys {
		e, ok := l.lru.Peek(k)
		if !ok {
			continue
		}
		out = append(out, SnapshotEntry{Key: k, Size: len(e.value), ExpiresAt: e.expiresAt})
	}
	return out
}
