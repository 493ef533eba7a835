// Package metrics records timestamped numeric samples that the alert engine,
// the dashboard and the Prometheus exporter read from.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clipforge/clipforge/pkg/clock"
)

// Well-known sample names reported by the core services.
const (
	CacheEntries      = "cache.entries"
	CacheMemoryBytes  = "cache.memory_bytes"
	CacheHitRate      = "cache.hit_rate"
	PrefetchSuccess   = "prefetch.success"
	PrefetchFailure   = "prefetch.failure"
	ProviderLatency   = "provider.latency_ms"
	StageFallback     = "pipeline.fallback"
	StageCost         = "pipeline.stage_cost"
	RunCost           = "pipeline.cost"
	RunDuration       = "pipeline.duration_ms"
	BudgetUtilization = "budget.utilization"
	RateRejected      = "ratelimit.rejected"
)

// DefaultRetention is how long samples are kept when no horizon is given.
const DefaultRetention = 24 * time.Hour

// Sample is a single recorded observation.
type Sample struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Summary aggregates one metric name.
type Summary struct {
	Name       string    `json:"name"`
	Unit       string    `json:"unit"`
	Count      int       `json:"count"`
	Last       float64   `json:"last"`
	LastAt     time.Time `json:"last_at"`
	WindowMean float64   `json:"window_mean"`
	WindowSize int       `json:"window_size"`
}

// Sink is an in-memory, append-only sample store partitioned by name.
type Sink struct {
	clock     clock.Clock
	retention time.Duration

	mu     sync.RWMutex
	series map[string][]Sample
}

// NewSink creates a Sink. A non-positive retention uses DefaultRetention.
func NewSink(clk clock.Clock, retention time.Duration) *Sink {
	if clk == nil {
		clk = clock.Real()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sink{
		clock:     clk,
		retention: retention,
		series:    make(map[string][]Sample),
	}
}

// Record appends a sample stamped with the current time.
func (s *Sink) Record(name string, value float64, unit string, metadata map[string]string) {
	sample := Sample{
		Name:     name,
		Value:    value,
		Unit:     unit,
		Metadata: metadata,
	}
	// Stamped under the lock so each series stays in time order.
	s.mu.Lock()
	sample.Timestamp = s.clock.Now()
	s.series[name] = append(s.series[name], sample)
	s.mu.Unlock()
}

// Samples returns a copy of the samples for name recorded at or after since.
func (s *Sink) Samples(name string, since time.Time) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.series[name]
	i := firstAtOrAfter(series, since)
	out := make([]Sample, len(series)-i)
	copy(out, series[i:])
	return out
}

// Mean returns the arithmetic mean of samples for name within the trailing
// window and how many samples contributed. ok is false when there are none.
func (s *Sink) Mean(name string, window time.Duration) (mean float64, n int, ok bool) {
	since := s.clock.Now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.series[name]
	var sum float64
	for _, sm := range series[firstAtOrAfter(series, since):] {
		sum += sm.Value
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return sum / float64(n), n, true
}

// Names lists every metric that currently has samples.
func (s *Sink) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for name, series := range s.series {
		if len(series) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot summarises every metric, computing window means over window.
func (s *Sink) Snapshot(window time.Duration) []Summary {
	since := s.clock.Now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.series))
	for name, series := range s.series {
		if len(series) == 0 {
			continue
		}
		last := series[len(series)-1]
		sum := Summary{
			Name:   name,
			Unit:   last.Unit,
			Count:  len(series),
			Last:   last.Value,
			LastAt: last.Timestamp,
		}
		var total float64
		for _, sm := range series[firstAtOrAfter(series, since):] {
			total += sm.Value
			sum.WindowSize++
		}
		if sum.WindowSize > 0 {
			sum.WindowMean = total / float64(sum.WindowSize)
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sweep drops samples older than the retention horizon and returns how many
// were removed.
func (s *Sink) Sweep() int {
	cutoff := s.clock.Now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for name, series := range s.series {
		i := firstAtOrAfter(series, cutoff)
		if i == 0 {
			continue
		}
		removed += i
		if i == len(series) {
			delete(s.series, name)
			continue
		}
		kept := make([]Sample, len(series)-i)
		copy(kept, series[i:])
		s.series[name] = kept
	}
	return removed
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sink) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Sweep()
		}
	}
}

// firstAtOrAfter returns the index of the first sample not older than t.
// Samples are appended in clock order, so the series is sorted.
func firstAtOrAfter(series []Sample, t time.Time) int {
	return sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(t)
	})
}
