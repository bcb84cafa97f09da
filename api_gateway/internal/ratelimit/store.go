// Package ratelimit enforces per-subject hourly, daily and burst quotas over
// fixed windows held in an in-process counter store.
package ratelimit

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// WindowKind identifies one of the three windows tracked per subject.
type WindowKind int

const (
	Hourly WindowKind = iota
	Daily
	Burst
	numWindows
)

// Kinds lists every window kind.
var Kinds = [numWindows]WindowKind{Hourly, Daily, Burst}

func (k WindowKind) String() string {
	switch k {
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Burst:
		return "burst"
	default:
		return "unknown"
	}
}

// Duration is the fixed length of the window.
func (k WindowKind) Duration() time.Duration {
	switch k {
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Burst:
		return time.Minute
	default:
		return 0
	}
}

// WindowState is the counter for one subject and window.
type WindowState struct {
	Count     int       `json:"count"`
	WindowEnd time.Time `json:"windowEnd"`
}

func (w WindowState) expired(now time.Time) bool {
	return !now.Before(w.WindowEnd)
}

type subjectWindows struct {
	windows [numWindows]WindowState
}

type shard struct {
	mu       sync.Mutex
	subjects map[string]*subjectWindows
}

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 64

// CounterStore holds window counters keyed by subject. Every operation on a
// subject runs under that subject's shard lock, so a check followed by an
// increment inside Update cannot interleave with another request for the
// same subject.
type CounterStore struct {
	shards []*shard
}

// NewCounterStore creates a store with n shards. n <= 0 selects DefaultShards.
func NewCounterStore(n int) *CounterStore {
	if n <= 0 {
		n = DefaultShards
	}
	s := &CounterStore{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{subjects: make(map[string]*subjectWindows)}
	}
	return s
}

func (s *CounterStore) shardFor(subject string) *shard {
	return s.shards[xxhash.Sum64String(subject)%uint64(len(s.shards))]
}

// Tx is a view of one subject's windows valid only inside Update.
type Tx struct {
	w   *subjectWindows
	now time.Time
}

// Observe returns the window state, resetting it first if it has expired.
func (tx *Tx) Observe(kind WindowKind) WindowState {
	st := &tx.w.windows[kind]
	if st.expired(tx.now) {
		st.Count = 0
		st.WindowEnd = tx.now.Add(kind.Duration())
	}
	return *st
}

// Increment adds one to the live window and returns the new state.
func (tx *Tx) Increment(kind WindowKind) WindowState {
	tx.Observe(kind)
	st := &tx.w.windows[kind]
	st.Count++
	return *st
}

// Update runs fn with exclusive access to subject's windows. The subject
// entry is created on first observation.
func (s *CounterStore) Update(subject string, now time.Time, fn func(tx *Tx)) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.subjects[subject]
	if !ok {
		w = &subjectWindows{}
		sh.subjects[subject] = w
	}
	fn(&Tx{w: w, now: now})
}

// ObserveAndMaybeReset returns the current state for one window.
func (s *CounterStore) ObserveAndMaybeReset(subject string, kind WindowKind, now time.Time) WindowState {
	var st WindowState
	s.Update(subject, now, func(tx *Tx) { st = tx.Observe(kind) })
	return st
}

// Increment adds one to a single window.
func (s *CounterStore) Increment(subject string, kind WindowKind, now time.Time) WindowState {
	var st WindowState
	s.Update(subject, now, func(tx *Tx) { st = tx.Increment(kind) })
	return st
}

// Snapshot returns every window for subject without creating or resetting
// anything. Expired windows are reported with a zero count.
func (s *CounterStore) Snapshot(subject string, now time.Time) ([numWindows]WindowState, bool) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var out [numWindows]WindowState
	w, ok := sh.subjects[subject]
	if !ok {
		return out, false
	}
	out = w.windows
	for i := range out {
		if out[i].expired(now) {
			out[i].Count = 0
		}
	}
	return out, true
}

// Reset drops all counters for subject. It reports whether an entry existed.
func (s *CounterStore) Reset(subject string) bool {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.subjects[subject]; !ok {
		return false
	}
	delete(sh.subjects, subject)
	return true
}

// Sweep evicts subjects whose windows have all been expired for longer than
// the retention. A retention of zero uses each window's own duration. It
// returns the number of evicted subjects.
func (s *CounterStore) Sweep(now time.Time, retention time.Duration) int {
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for subject, w := range sh.subjects {
			if w.stale(now, retention) {
				delete(sh.subjects, subject)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

func (w *subjectWindows) stale(now time.Time, retention time.Duration) bool {
	for _, kind := range Kinds {
		st := w.windows[kind]
		if st.WindowEnd.IsZero() {
			continue
		}
		keep := retention
		if keep <= 0 {
			keep = kind.Duration()
		}
		if !now.After(st.WindowEnd.Add(keep)) {
			return false
		}
	}
	return true
}

// Len returns the number of tracked subjects.
func (s *CounterStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.subjects)
		sh.mu.Unlock()
	}
	return n
}
