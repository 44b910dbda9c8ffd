// Package metrics provides the process-wide metrics sink used by Atende components.
//
// Components report named counters, gauges and timing samples through the Sink
// interface. Two implementations exist: an in-memory sink that retains values for
// the /health report, and a Prometheus bridge. MultiSink fans out to both.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Sink is the reporting interface components depend on.
type Sink interface {
	// Increment adds one to the named counter.
	Increment(name string)
	// Set records the current value of the named gauge.
	Set(name string, value float64)
	// Record adds a sample to the named histogram.
	Record(name string, value float64)
}

// HistogramSampleLimit bounds how many samples each in-memory histogram retains.
const HistogramSampleLimit = 100

// InMemorySink keeps all reported metrics in process memory.
type InMemorySink struct {
	mu         sync.Mutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
	startTime  time.Time
}

// NewInMemorySink creates an empty in-memory sink.
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		startTime:  time.Now(),
	}
}

// Increment adds one to the named counter.
func (s *InMemorySink) Increment(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
}

// Set records the current value of the named gauge.
func (s *InMemorySink) Set(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = value
}

// Record adds a sample to the named histogram, keeping the most recent
// HistogramSampleLimit samples.
func (s *InMemorySink) Record(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := append(s.histograms[name], value)
	if len(samples) > HistogramSampleLimit {
		samples = samples[len(samples)-HistogramSampleLimit:]
	}
	s.histograms[name] = samples
}

// Counter returns the current value of the named counter.
func (s *InMemorySink) Counter(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Gauge returns the current value of the named gauge and whether it was ever set.
func (s *InMemorySink) Gauge(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.gauges[name]
	return v, ok
}

// HistogramStats summarizes an in-memory histogram.
type HistogramStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Histogram returns summary statistics for the named histogram.
func (s *InMemorySink) Histogram(name string) HistogramStats {
	s.mu.Lock()
	samples := append([]float64(nil), s.histograms[name]...)
	s.mu.Unlock()

	if len(samples) == 0 {
		return HistogramStats{}
	}
	sort.Float64s(samples)
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return HistogramStats{
		Count: len(samples),
		Min:   samples[0],
		Max:   samples[len(samples)-1],
		Mean:  sum / float64(len(samples)),
		P50:   samples[len(samples)/2],
		P95:   samples[int(float64(len(samples))*0.95)],
		P99:   samples[int(float64(len(samples))*0.99)],
	}
}

// Snapshot is a point-in-time view of all in-memory metrics.
type Snapshot struct {
	UptimeSeconds float64                   `json:"uptime_seconds"`
	Counters      map[string]int64          `json:"counters"`
	Gauges        map[string]float64        `json:"gauges"`
	Histograms    map[string]HistogramStats `json:"histograms"`
}

// SnapshotAll returns a copy of every counter, gauge and histogram summary.
func (s *InMemorySink) SnapshotAll() Snapshot {
	s.mu.Lock()
	counters := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(s.gauges))
	for k, v := range s.gauges {
		gauges[k] = v
	}
	names := make([]string, 0, len(s.histograms))
	for k := range s.histograms {
		names = append(names, k)
	}
	uptime := time.Since(s.startTime).Seconds()
	s.mu.Unlock()

	histograms := make(map[string]HistogramStats, len(names))
	for _, name := range names {
		histograms[name] = s.Histogram(name)
	}
	return Snapshot{
		UptimeSeconds: uptime,
		Counters:      counters,
		Gauges:        gauges,
		Histograms:    histograms,
	}
}

// Reset clears all retained metrics.
func (s *InMemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]int64)
	s.gauges = make(map[string]float64)
	s.histograms = make(map[string][]float64)
	s.startTime = time.Now()
}

// MultiSink fans every report out to all wrapped sinks.
type MultiSink []Sink

// Increment adds one to the named counter on every sink.
func (m MultiSink) Increment(name string) {
	for _, s := range m {
		s.Increment(name)
	}
}

// Set records the gauge value on every sink.
func (m MultiSink) Set(name string, value float64) {
	for _, s := range m {
		s.Set(name, value)
	}
}

// Record adds the sample on every sink.
func (m MultiSink) Record(name string, value float64) {
	for _, s := range m {
		s.Record(name, value)
	}
}

// NopSink discards all reports. Useful as a default in tests.
type NopSink struct{}

func (NopSink) Increment(string)       {}
func (NopSink) Set(string, float64)    {}
func (NopSink) Record(string, float64) {}
