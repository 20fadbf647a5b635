package server

import (
	"time"

	"github.com/dbsmedya/schemasentry/internal/cache"
	"github.com/dbsmedya/schemasentry/internal/dedup"
	"github.com/dbsmedya/schemasentry/internal/ratelimit"
)

// ServerStats is the aggregate snapshot served by get_server_stats.
type ServerStats struct {
	UptimeSeconds        float64         `json:"uptime_seconds"`
	ConnectedClients     int             `json:"connected_clients"`
	Cache                cache.Stats     `json:"cache"`
	RequestDeduplication dedup.Stats     `json:"request_deduplication"`
	RateLimiting         ratelimit.Stats `json:"rate_limiting"`
}

func (s *Server) statsSnapshot() ServerStats {
	s.connMu.Lock()
	connected := len(s.conns)
	s.connMu.Unlock()

	return ServerStats{
		UptimeSeconds:        time.Since(s.startedAt).Seconds(),
		ConnectedClients:     connected,
		Cache:                s.store.Stats(),
		RequestDeduplication: s.group.Stats(),
		RateLimiting:         s.limiter.Stats(),
	}
}
