package store

import (
	"sync"
	"time"

	"github.com/yourusername/tokengate/core"
)

// Memory provides thread-safe in-memory bucket storage. The map lock only
// guards membership; each bucket carries its own mutex, so operations on
// distinct keys never contend.
type Memory struct {
	mu      sync.RWMutex
	clock   core.Clock
	buckets map[string]*core.Bucket
}

// Ensure Memory implements Registry
var _ Registry = (*Memory)(nil)

// NewMemory creates a new in-memory registry.
func NewMemory(clock core.Clock) *Memory {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Memory{
		clock:   clock,
		buckets: make(map[string]*core.Bucket),
	}
}

// GetOrCreate returns the bucket for key, creating it with cfg when absent.
func (m *Memory) GetOrCreate(key string, cfg core.Config) *core.Bucket {
	// Fast path: bucket already exists
	m.mu.RLock()
	bucket, ok := m.buckets[key]
	m.mu.RUnlock()
	if ok {
		return bucket
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check: another goroutine may have won the race
	if bucket, ok = m.buckets[key]; ok {
		return bucket
	}

	bucket = core.NewBucket(key, cfg, m.clock.Now())
	m.buckets[key] = bucket
	return bucket
}

// Get returns the bucket for key, or false when the key is unknown.
func (m *Memory) Get(key string) (*core.Bucket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.buckets[key]
	return bucket, ok
}

// Delete removes the bucket for key, reporting whether one existed.
func (m *Memory) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[key]; !ok {
		return false
	}
	delete(m.buckets, key)
	return true
}

// List returns a point-in-time copy of all buckets.
func (m *Memory) List() []*core.Bucket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buckets := make([]*core.Bucket, 0, len(m.buckets))
	for _, bucket := range m.buckets {
		buckets = append(buckets, bucket)
	}
	return buckets
}

// Count returns the number of tracked keys.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets)
}

// Load installs restored buckets, skipping keys that already exist.
// Used once at startup to rehydrate from a snapshot store.
func (m *Memory) Load(states []core.State) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := 0
	for _, state := range states {
		if _, ok := m.buckets[state.Key]; ok {
			continue
		}
		m.buckets[state.Key] = core.FromState(state)
		loaded++
	}
	return loaded
}

// EvictIdle removes buckets whose last activity is older than maxAge.
// Buckets with a live block are kept regardless of idleness.
// Returns the number of buckets removed.
func (m *Memory) EvictIdle(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	now := m.clock.Now()
	cutoff := now.Add(-maxAge)
	return m.evictStale(m.staleKeys(cutoff, now), cutoff, now)
}

// staleKeys collects eviction candidates without the map lock held across
// bucket locks.
func (m *Memory) staleKeys(cutoff, now time.Time) []string {
	var stale []string
	for _, bucket := range m.List() {
		if bucket.LastActivity().Before(cutoff) && !now.Before(bucket.BlockedUntil()) {
			stale = append(stale, bucket.Key())
		}
	}
	return stale
}

// evictStale deletes the candidates that are still stale. A bucket that saw
// activity or gained a block after the scan is kept.
func (m *Memory) evictStale(stale []string, cutoff, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range stale {
		bucket, ok := m.buckets[key]
		if !ok {
			continue
		}
		if !bucket.LastActivity().Before(cutoff) || now.Before(bucket.BlockedUntil()) {
			continue
		}
		delete(m.buckets, key)
		removed++
	}
	return removed
}
