// Package cache provides the TTL-bounded, LRU-evicting in-memory store
// backing schema metadata and query result caching.
package cache

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
)

// Entry is a cached value with its expiry bookkeeping. Entries are
// owned exclusively by the Store; values are replaced wholesale on
// refresh, never mutated in place.
type Entry struct {
	Key        string
	Value      interface{}
	CreatedAt  time.Time
	TTL        time.Duration
	LastAccess time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Store is a thread-safe key/value cache. The ordered map keeps
// recency order: front = least recently used, back = most recent.
type Store struct {
	mu         sync.RWMutex
	entries    *orderedmap.OrderedMap[string, *Entry]
	maxEntries int

	hits        int64
	misses      int64
	expirations int64
	evictions   int64
	perOp       map[string]*OpStats

	stop chan struct{}
	once sync.Once
}

// OpStats is a hit/miss breakdown for one operation prefix.
type OpStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats is the operator-facing cache snapshot.
type Stats struct {
	TotalEntries   int                `json:"total_entries"`
	Hits           int64              `json:"hits"`
	Misses         int64              `json:"misses"`
	Expirations    int64              `json:"expirations"`
	Evictions      int64              `json:"evictions"`
	MemoryEstimate int64              `json:"memory_usage_estimate"`
	OldestEntryAge float64            `json:"oldest_entry_age_seconds"`
	PerOperation   map[string]OpStats `json:"per_operation"`
}

// New creates a Store and starts the background expiry sweep.
// sweepInterval <= 0 disables the sweep (tests rely on lazy expiry).
func New(maxEntries int, sweepInterval time.Duration) *Store {
	s := &Store{
		entries:    orderedmap.NewOrderedMap[string, *Entry](),
		maxEntries: maxEntries,
		perOp:      make(map[string]*OpStats),
		stop:       make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Get returns the value for key, or ok=false on a miss. An expired
// entry behaves identically to a miss and is removed on the spot.
func (s *Store) Get(key string) (interface{}, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(key)
	if !ok {
		s.recordMiss(key)
		return nil, false
	}
	if entry.expired(now) {
		s.entries.Delete(key)
		s.expirations++
		s.recordMiss(key)
		return nil, false
	}

	entry.LastAccess = now
	// Touch recency: move to back
	s.entries.Delete(key)
	s.entries.Set(key, entry)

	s.hits++
	if op := opOf(key); op != "" {
		s.opStats(op).Hits++
	}
	return entry.Value, true
}

// Set stores value under key with the given TTL, overwriting any
// existing entry atomically. When the store is full, the least
// recently used entry is evicted first.
func (s *Store) Set(key string, value interface{}, ttl time.Duration) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries.Get(key); exists {
		s.entries.Delete(key)
	} else if s.maxEntries > 0 && s.entries.Len() >= s.maxEntries {
		s.evictOldest(now)
	}

	s.entries.Set(key, &Entry{
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		TTL:        ttl,
		LastAccess: now,
	})
}

// evictOldest removes the least recently used live entry. Expired
// entries at the front count as expirations, not evictions.
// Caller holds the lock.
func (s *Store) evictOldest(now time.Time) {
	front := s.entries.Front()
	if front == nil {
		return
	}
	if front.Value.expired(now) {
		s.expirations++
	} else {
		s.evictions++
	}
	s.entries.Delete(front.Key)
}

// Invalidate removes a single key. Returns true if it was present.
func (s *Store) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Delete(key)
}

// InvalidateGlob removes all keys matching the glob pattern
// ('*' matches any run of characters) and returns how many were
// removed. A pattern with no matches returns 0 without error.
func (s *Store) InvalidateGlob(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []string
	for el := s.entries.Front(); el != nil; el = el.Next() {
		if globMatch(pattern, el.Key) {
			matched = append(matched, el.Key)
		}
	}
	for _, key := range matched {
		s.entries.Delete(key)
	}
	return len(matched)
}

// globMatch matches '*' as a multi-character wildcard. path.Match
// treats '/' specially, but cache keys never contain '/', so it is
// an exact fit here.
func globMatch(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// Len returns the number of entries, including any not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len()
}

// Stats returns a snapshot of cache statistics.
func (s *Store) Stats() Stats {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalEntries: s.entries.Len(),
		Hits:         s.hits,
		Misses:       s.misses,
		Expirations:  s.expirations,
		Evictions:    s.evictions,
		PerOperation: make(map[string]OpStats, len(s.perOp)),
	}
	for op, os := range s.perOp {
		stats.PerOperation[op] = *os
	}

	var oldest time.Time
	for el := s.entries.Front(); el != nil; el = el.Next() {
		stats.MemoryEstimate += estimateSize(el.Key, el.Value.Value)
		if oldest.IsZero() || el.Value.CreatedAt.Before(oldest) {
			oldest = el.Value.CreatedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestEntryAge = now.Sub(oldest).Seconds()
	}
	return stats
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.once.Do(func() { close(s.stop) })
}

// sweepLoop periodically purges expired entries to bound memory
// between lazy Get-side removals.
func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes all expired entries and returns how many were purged.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for el := s.entries.Front(); el != nil; el = el.Next() {
		if el.Value.expired(now) {
			expired = append(expired, el.Key)
		}
	}
	for _, key := range expired {
		s.entries.Delete(key)
		s.expirations++
	}
	return len(expired)
}

// recordMiss updates global and per-operation miss counters.
// Caller holds the lock.
func (s *Store) recordMiss(key string) {
	s.misses++
	if op := opOf(key); op != "" {
		s.opStats(op).Misses++
	}
}

func (s *Store) opStats(op string) *OpStats {
	st, ok := s.perOp[op]
	if !ok {
		st = &OpStats{}
		s.perOp[op] = st
	}
	return st
}

// opOf extracts the operation prefix from a cache key
// ("schema:db:shop:table:orders" -> "schema").
func opOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// estimateSize is a rough per-entry memory estimate. Values are
// opaque, so only strings and byte slices contribute beyond a fixed
// overhead.
func estimateSize(key string, value interface{}) int64 {
	const entryOverhead = 96
	size := int64(len(key)) + entryOverhead
	switch v := value.(type) {
	case string:
		size += int64(len(v))
	case []byte:
		size += int64(len(v))
	}
	return size
}
