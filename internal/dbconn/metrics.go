package dbconn

import (
	"sort"
	"sync"
	"time"
)

// Metrics tracks per-server query telemetry: counts, error counts, and a
// running average latency over a bounded sample window.
type Metrics struct {
	mu         sync.RWMutex
	counts     map[string]int64
	errors     map[string]int64
	latency    map[string][]time.Duration
	maxSamples int
}

// NewMetrics creates a metrics collector keeping the last 1000 latency
// samples per server.
func NewMetrics() *Metrics {
	return &Metrics{
		counts:     make(map[string]int64),
		errors:     make(map[string]int64),
		latency:    make(map[string][]time.Duration),
		maxSamples: 1000,
	}
}

// RecordQuery notes one query against a server.
func (m *Metrics) RecordQuery(serverKey string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[serverKey]++
	if err != nil {
		m.errors[serverKey]++
	}

	samples := append(m.latency[serverKey], latency)
	if len(samples) > m.maxSamples {
		samples = samples[len(samples)-m.maxSamples:]
	}
	m.latency[serverKey] = samples
}

// ServerStats is a point-in-time snapshot for one server.
type ServerStats struct {
	ServerKey  string        `json:"serverKey"`
	Queries    int64         `json:"queries"`
	Errors     int64         `json:"errors"`
	AvgLatency time.Duration `json:"avgLatency"`
}

// Snapshot returns stats for every server seen so far, sorted by key.
func (m *Metrics) Snapshot() []ServerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStats, 0, len(m.counts))
	for key, count := range m.counts {
		var total time.Duration
		samples := m.latency[key]
		for _, d := range samples {
			total += d
		}
		var avg time.Duration
		if len(samples) > 0 {
			avg = total / time.Duration(len(samples))
		}
		out = append(out, ServerStats{
			ServerKey:  key,
			Queries:    count,
			Errors:     m.errors[key],
			AvgLatency: avg,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerKey < out[j].ServerKey })
	return out
}
