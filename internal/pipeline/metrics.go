package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics holds per-process, increment-only counters for the search
// pipeline. A snapshot is exposed on the health endpoint.
type Metrics struct {
	startedAt        time.Time
	searches         atomic.Int64
	cacheHits        atomic.Int64
	followUps        atomic.Int64
	providerFailures atomic.Int64
	placesReturned   atomic.Int64
}

// NewMetrics creates a Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now().UTC()}
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	Searches         int64     `json:"searches"`
	CacheHits        int64     `json:"cache_hits"`
	CacheHitRate     float64   `json:"cache_hit_rate"`
	FollowUps        int64     `json:"follow_ups"`
	ProviderFailures int64     `json:"provider_failures"`
	PlacesReturned   int64     `json:"places_returned"`
	StartedAt        time.Time `json:"started_at"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	searches := m.searches.Load()
	hits := m.cacheHits.Load()

	snap := MetricsSnapshot{
		Searches:         searches,
		CacheHits:        hits,
		FollowUps:        m.followUps.Load(),
		ProviderFailures: m.providerFailures.Load(),
		PlacesReturned:   m.placesReturned.Load(),
		StartedAt:        m.startedAt,
	}
	if searches > 0 {
		snap.CacheHitRate = float64(hits) / float64(searches)
	}
	return snap
}
