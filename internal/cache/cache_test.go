package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundtrip(t *testing.T) {
	s := New(10, 0)
	defer s.Close()

	s.Set("schema:database:shop:table:orders", map[string]string{"a": "b"}, time.Minute)

	v, ok := s.Get("schema:database:shop:table:orders")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"a": "b"}, v)

	_, ok = s.Get("schema:database:shop:table:missing")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	s := New(10, 0)
	defer s.Close()

	s.Set("query:abc", "rows", 10*time.Millisecond)

	_, ok := s.Get("query:abc")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = s.Get("query:abc")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
}

func TestOverwriteResetsTTL(t *testing.T) {
	s := New(10, 0)
	defer s.Close()

	s.Set("tables:database:shop", "old", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.Set("tables:database:shop", "new", time.Minute)

	v, ok := s.Get("tables:database:shop")
	require.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, s.Len())
}

func TestLRUEviction(t *testing.T) {
	s := New(3, 0)
	defer s.Close()

	s.Set("k:1", 1, time.Minute)
	s.Set("k:2", 2, time.Minute)
	s.Set("k:3", 3, time.Minute)

	// Touch k:1 so k:2 becomes least recently used
	_, ok := s.Get("k:1")
	require.True(t, ok)

	s.Set("k:4", 4, time.Minute)

	_, ok = s.Get("k:2")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = s.Get("k:1")
	assert.True(t, ok)
	_, ok = s.Get("k:4")
	assert.True(t, ok)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(0), stats.Expirations)
}

func TestEvictionOfExpiredFrontCountsAsExpiration(t *testing.T) {
	s := New(2, 0)
	defer s.Close()

	s.Set("k:old", 1, time.Millisecond)
	s.Set("k:live", 2, time.Minute)
	time.Sleep(5 * time.Millisecond)

	s.Set("k:new", 3, time.Minute)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(0), stats.Evictions)
}

func TestInvalidate(t *testing.T) {
	s := New(10, 0)
	defer s.Close()

	s.Set("databases", []string{"shop"}, time.Minute)

	assert.True(t, s.Invalidate("databases"))
	assert.False(t, s.Invalidate("databases"), "second invalidation is a no-op")
}

func TestInvalidateGlob(t *testing.T) {
	s := New(10, 0)
	defer s.Close()

	s.Set("schema:database:shop:table:orders", 1, time.Minute)
	s.Set("schema:database:shop:table:users", 2, time.Minute)
	s.Set("schema:database:crm:table:leads", 3, time.Minute)
	s.Set("tables:database:shop", 4, time.Minute)

	removed := s.InvalidateGlob("schema:database:shop:*")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, s.Len())

	// Idempotent: the second pass matches nothing
	assert.Equal(t, 0, s.InvalidateGlob("schema:database:shop:*"))

	// A pattern for a database never seen also returns 0
	assert.Equal(t, 0, s.InvalidateGlob("schema:database:ghost:*"))
}

func TestSweep(t *testing.T) {
	s := New(10, 0)
	defer s.Close()

	s.Set("k:1", 1, time.Millisecond)
	s.Set("k:2", 2, time.Millisecond)
	s.Set("k:3", 3, time.Minute)
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.Sweep())
}

func TestStatsPerOperation(t *testing.T) {
	s := New(10, 0)
	defer s.Close()

	s.Set("schema:database:shop:table:orders", 1, time.Minute)
	s.Get("schema:database:shop:table:orders") // hit
	s.Get("schema:database:shop:table:users")  // miss
	s.Get("tables:database:shop")              // miss

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)

	require.Contains(t, stats.PerOperation, "schema")
	assert.Equal(t, int64(1), stats.PerOperation["schema"].Hits)
	assert.Equal(t, int64(1), stats.PerOperation["schema"].Misses)

	require.Contains(t, stats.PerOperation, "tables")
	assert.Equal(t, int64(1), stats.PerOperation["tables"].Misses)

	assert.Greater(t, stats.MemoryEstimate, int64(0))
	assert.GreaterOrEqual(t, stats.OldestEntryAge, float64(0))
}

func TestConcurrentAccess(t *testing.T) {
	s := New(100, 0)
	defer s.Close()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k:%d", j%50)
				s.Set(key, n, time.Minute)
				s.Get(key)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.LessOrEqual(t, s.Len(), 100)
}
