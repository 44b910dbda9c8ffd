// Package metrics provides the process-wide metrics sink used by Atende components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink bridges the Sink interface onto Prometheus collectors.
// Metric names reported through the interface become the "name" label of three
// shared vectors, so dynamically named metrics need no pre-registration.
type PrometheusSink struct {
	counters   *prometheus.CounterVec
	gauges     *prometheus.GaugeVec
	histograms *prometheus.HistogramVec
}

// NewPrometheusSink registers the shared collectors on the default registry.
// Construct it once per process.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{
		counters: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atende_events_total",
				Help: "Named event counters reported by Atende components",
			},
			[]string{"name"},
		),
		gauges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "atende_gauge",
				Help: "Named gauges reported by Atende components",
			},
			[]string{"name"},
		),
		histograms: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atende_sample_seconds",
				Help:    "Named timing samples reported by Atende components",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"name"},
		),
	}
}

// Increment adds one to the named counter.
func (s *PrometheusSink) Increment(name string) {
	s.counters.WithLabelValues(name).Inc()
}

// Set records the current value of the named gauge.
func (s *PrometheusSink) Set(name string, value float64) {
	s.gauges.WithLabelValues(name).Set(value)
}

// Record adds a sample to the named histogram.
func (s *PrometheusSink) Record(name string, value float64) {
	s.histograms.WithLabelValues(name).Observe(value)
}
