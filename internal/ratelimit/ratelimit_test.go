package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/schemasentry/internal/config"
)

func baseConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		RequestsPerMinute: 5,
		Adaptive:          false,
	}
}

func TestAllow_UnderCeiling(t *testing.T) {
	l := New(baseConfig())
	defer l.Close()

	for i := 0; i < 5; i++ {
		assert.NoError(t, l.Allow("agent-1"))
	}
}

func TestAllow_RejectsOverCeiling(t *testing.T) {
	l := New(baseConfig())
	defer l.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("agent-1"))
	}

	err := l.Allow("agent-1")
	require.Error(t, err)

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "agent-1", limitErr.ClientID)
	assert.Greater(t, limitErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, limitErr.RetryAfter, time.Minute)
}

func TestAllow_ClientsAreIndependent(t *testing.T) {
	l := New(baseConfig())
	defer l.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("agent-1"))
	}
	require.Error(t, l.Allow("agent-1"))

	// A different client still has a full window
	assert.NoError(t, l.Allow("agent-2"))
}

func TestAdaptiveCeilingLowersAfterFailures(t *testing.T) {
	l := New(config.RateLimitConfig{
		RequestsPerMinute: 8,
		Adaptive:          true,
		FailureThreshold:  2,
		Cooldown:          time.Hour,
		MinRatio:          0.25,
	})
	defer l.Close()

	// Threshold reached: ceiling halves once -> 4
	l.RecordFailure("agent-1")
	l.RecordFailure("agent-1")

	allowed := 0
	for i := 0; i < 8; i++ {
		if l.Allow("agent-1") == nil {
			allowed++
		}
	}
	assert.Equal(t, 4, allowed)
}

func TestAdaptiveCeilingFlooredAtMinRatio(t *testing.T) {
	l := New(config.RateLimitConfig{
		RequestsPerMinute: 8,
		Adaptive:          true,
		FailureThreshold:  1,
		Cooldown:          time.Hour,
		MinRatio:          0.25,
	})
	defer l.Close()

	// Far past the threshold: repeated halving bottoms out at 25% of 8
	for i := 0; i < 10; i++ {
		l.RecordFailure("agent-1")
	}

	allowed := 0
	for i := 0; i < 8; i++ {
		if l.Allow("agent-1") == nil {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestAdaptiveCooldownRestoresCeiling(t *testing.T) {
	l := New(config.RateLimitConfig{
		RequestsPerMinute: 4,
		Adaptive:          true,
		FailureThreshold:  1,
		Cooldown:          20 * time.Millisecond,
		MinRatio:          0.25,
	})
	defer l.Close()

	l.RecordFailure("agent-1")
	l.RecordFailure("agent-1")

	time.Sleep(40 * time.Millisecond)

	// Cooldown has elapsed since the last failure: full ceiling again
	allowed := 0
	for i := 0; i < 4; i++ {
		if l.Allow("agent-1") == nil {
			allowed++
		}
	}
	assert.Equal(t, 4, allowed)
}

func TestRecordSuccessClearsFailureStreak(t *testing.T) {
	l := New(config.RateLimitConfig{
		RequestsPerMinute: 4,
		Adaptive:          true,
		FailureThreshold:  1,
		Cooldown:          time.Hour,
		MinRatio:          0.25,
	})
	defer l.Close()

	l.RecordFailure("agent-1")
	l.RecordFailure("agent-1")
	l.RecordSuccess("agent-1")

	allowed := 0
	for i := 0; i < 4; i++ {
		if l.Allow("agent-1") == nil {
			allowed++
		}
	}
	assert.Equal(t, 4, allowed)
}

func TestStats(t *testing.T) {
	l := New(config.RateLimitConfig{RequestsPerMinute: 2})
	defer l.Close()

	require.NoError(t, l.Allow("agent-1"))
	require.NoError(t, l.Allow("agent-1"))
	require.Error(t, l.Allow("agent-1"))
	require.NoError(t, l.Allow("agent-2"))

	stats := l.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.Allowed)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, 2, stats.ActiveClients)
}

func TestSweepRemovesIdleClients(t *testing.T) {
	l := New(config.RateLimitConfig{
		RequestsPerMinute: 5,
		IdleTTL:           time.Millisecond,
	})
	defer l.Close()

	require.NoError(t, l.Allow("agent-1"))
	time.Sleep(10 * time.Millisecond)

	l.sweep()
	assert.Equal(t, 0, l.Stats().ActiveClients)
}
