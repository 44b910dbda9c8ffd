package metrics

import (
	"sync"
	"testing"
)

func TestCountersAndGauges(t *testing.T) {
	s := NewInMemorySink()

	s.Increment("requests")
	s.Increment("requests")
	if got := s.Counter("requests"); got != 2 {
		t.Errorf("counter = %d, want 2", got)
	}
	if got := s.Counter("unknown"); got != 0 {
		t.Errorf("unknown counter = %d, want 0", got)
	}

	s.Set("connection_status", 1)
	v, ok := s.Gauge("connection_status")
	if !ok || v != 1 {
		t.Errorf("gauge = %v, %v", v, ok)
	}
	if _, ok := s.Gauge("unknown"); ok {
		t.Error("unknown gauge reported as set")
	}
}

func TestHistogramStats(t *testing.T) {
	s := NewInMemorySink()
	for _, v := range []float64{0.3, 0.1, 0.2} {
		s.Record("latency", v)
	}

	stats := s.Histogram("latency")
	if stats.Count != 3 {
		t.Errorf("count = %d, want 3", stats.Count)
	}
	if stats.Min != 0.1 || stats.Max != 0.3 {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 0.2 {
		t.Errorf("p50 = %v, want 0.2", stats.P50)
	}

	if empty := s.Histogram("unknown"); empty.Count != 0 {
		t.Errorf("empty histogram count = %d", empty.Count)
	}
}

func TestHistogramSampleLimit(t *testing.T) {
	s := NewInMemorySink()
	for i := 0; i < HistogramSampleLimit+50; i++ {
		s.Record("latency", float64(i))
	}

	stats := s.Histogram("latency")
	if stats.Count != HistogramSampleLimit {
		t.Errorf("count = %d, want %d", stats.Count, HistogramSampleLimit)
	}
	// Oldest samples were dropped.
	if stats.Min != 50 {
		t.Errorf("min = %v, want 50", stats.Min)
	}
}

func TestSnapshotAllAndReset(t *testing.T) {
	s := NewInMemorySink()
	s.Increment("requests")
	s.Set("status", 1)
	s.Record("latency", 0.5)

	snap := s.SnapshotAll()
	if snap.Counters["requests"] != 1 {
		t.Errorf("snapshot counters = %v", snap.Counters)
	}
	if snap.Gauges["status"] != 1 {
		t.Errorf("snapshot gauges = %v", snap.Gauges)
	}
	if snap.Histograms["latency"].Count != 1 {
		t.Errorf("snapshot histograms = %v", snap.Histograms)
	}

	s.Reset()
	if got := s.Counter("requests"); got != 0 {
		t.Errorf("counter after reset = %d", got)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a := NewInMemorySink()
	b := NewInMemorySink()
	m := MultiSink{a, b}

	m.Increment("requests")
	m.Set("status", 1)
	m.Record("latency", 0.5)

	for i, s := range []*InMemorySink{a, b} {
		if s.Counter("requests") != 1 {
			t.Errorf("sink %d counter not updated", i)
		}
		if v, _ := s.Gauge("status"); v != 1 {
			t.Errorf("sink %d gauge not updated", i)
		}
		if s.Histogram("latency").Count != 1 {
			t.Errorf("sink %d histogram not updated", i)
		}
	}
}

func TestConcurrentReports(t *testing.T) {
	s := NewInMemorySink()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Increment("requests")
				s.Record("latency", float64(j))
			}
		}()
	}
	wg.Wait()

	if got := s.Counter("requests"); got != 1000 {
		t.Errorf("counter = %d, want 1000", got)
	}
}
