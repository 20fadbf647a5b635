// Package ratelimit provides per-client sliding-window rate limiting
// with an optional adaptive ceiling under sustained failures.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/dbsmedya/schemasentry/internal/config"
)

// window is the sliding window length the per-minute ceiling applies to.
const window = time.Minute

// LimitError is returned when a client exceeds its ceiling. It carries
// the retry-after hint surfaced to the caller; over-limit requests are
// rejected, never queued.
type LimitError struct {
	ClientID   string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for client %q, retry after %s",
		e.ClientID, e.RetryAfter.Round(time.Millisecond))
}

// clientRecord tracks one client's window and failure streak.
type clientRecord struct {
	requests     []time.Time // timestamps of allowed requests in the window
	failures     int         // consecutive failures (adaptive mode)
	lastFailure  time.Time
	lastActivity time.Time
}

// Limiter enforces a requests-per-minute ceiling per client.
type Limiter struct {
	mu      sync.Mutex
	cfg     config.RateLimitConfig
	records map[string]*clientRecord

	total    int64
	allowed  int64
	rejected int64

	stop chan struct{}
	once sync.Once
}

// Stats is the operator-facing limiter snapshot.
type Stats struct {
	TotalRequests int64 `json:"total_requests"`
	Allowed       int64 `json:"allowed"`
	Rejected      int64 `json:"rejected"`
	ActiveClients int   `json:"active_clients"`
}

// New creates a Limiter and starts the idle-client sweep.
func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		records: make(map[string]*clientRecord),
		stop:    make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go l.sweepLoop()
	}
	return l
}

// Allow checks whether a request from clientID fits in the current
// window. On rejection it returns a *LimitError with a retry-after
// hint; the request is counted but not queued.
func (l *Limiter) Allow(clientID string) error {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	record := l.getOrCreateRecord(clientID)
	record.lastActivity = now

	// Drop timestamps that fell out of the window
	windowStart := now.Add(-window)
	live := record.requests[:0]
	for _, t := range record.requests {
		if t.After(windowStart) {
			live = append(live, t)
		}
	}
	record.requests = live

	ceiling := l.effectiveCeiling(record, now)
	if len(record.requests) >= ceiling {
		l.rejected++
		retryAfter := record.requests[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &LimitError{ClientID: clientID, RetryAfter: retryAfter}
	}

	record.requests = append(record.requests, now)
	l.allowed++
	return nil
}

// effectiveCeiling lowers the ceiling while a client is in failure
// backoff: each consecutive failure past the threshold halves it,
// floored at MinRatio of the configured value. The original ceiling
// is restored once the cooldown elapses. Caller holds the lock.
func (l *Limiter) effectiveCeiling(record *clientRecord, now time.Time) int {
	ceiling := l.cfg.RequestsPerMinute

	if !l.cfg.Adaptive || record.failures < l.cfg.FailureThreshold {
		return ceiling
	}
	if l.cfg.Cooldown > 0 && now.Sub(record.lastFailure) >= l.cfg.Cooldown {
		record.failures = 0
		return ceiling
	}

	floor := int(float64(ceiling) * l.cfg.MinRatio)
	if floor < 1 {
		floor = 1
	}
	for i := record.failures - l.cfg.FailureThreshold; i >= 0 && ceiling > floor; i-- {
		ceiling /= 2
	}
	if ceiling < floor {
		ceiling = floor
	}
	return ceiling
}

// RecordFailure notes a failed upstream call for adaptive backoff.
func (l *Limiter) RecordFailure(clientID string) {
	if !l.cfg.Adaptive {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	record := l.getOrCreateRecord(clientID)
	record.failures++
	record.lastFailure = time.Now()
}

// RecordSuccess clears a client's failure streak.
func (l *Limiter) RecordSuccess(clientID string) {
	if !l.cfg.Adaptive {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if record, ok := l.records[clientID]; ok {
		record.failures = 0
	}
}

// Stats returns a snapshot of limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		TotalRequests: l.total,
		Allowed:       l.allowed,
		Rejected:      l.rejected,
		ActiveClients: len(l.records),
	}
}

// Close stops the idle-client sweep.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// getOrCreateRecord gets or creates a record for a client (must hold lock).
func (l *Limiter) getOrCreateRecord(clientID string) *clientRecord {
	record, ok := l.records[clientID]
	if !ok {
		record = &clientRecord{}
		l.records[clientID] = record
	}
	return record
}

// sweepLoop periodically removes idle client records to prevent
// memory growth.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	now := time.Now()
	idleTTL := l.cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for clientID, record := range l.records {
		if now.Sub(record.lastActivity) > idleTTL {
			delete(l.records, clientID)
		}
	}
}
