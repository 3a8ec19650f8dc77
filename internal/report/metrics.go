package report

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics are boring counters derived from Results only.
// Every counter must be explainable by looking at a single iteration record.
type Metrics struct {
	registry *prometheus.Registry

	started    prometheus.Counter
	iterations *prometheus.CounterVec // outcome
	statuses   *prometheus.CounterVec // outcome, status
	duration   prometheus.Histogram
	rss        prometheus.Gauge
}

// NewMetrics creates metrics on a private registry so several harnesses can
// coexist in one process (and in tests).
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exitshim_iterations_started_total",
			Help: "Fuzz iterations started",
		}),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitshim_iterations_total",
			Help: "Fuzz iterations completed, by outcome",
		}, []string{"outcome"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exitshim_interceptions_total",
			Help: "Intercepted termination requests, by kind and requested status",
		}, []string{"outcome", "status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exitshim_iteration_duration_seconds",
			Help:    "Wall time of one fuzz iteration",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		rss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exitshim_harness_rss_bytes",
			Help: "Resident memory of the harness after the last iteration",
		}),
	}
	m.registry.MustRegister(m.started, m.iterations, m.statuses, m.duration, m.rss)

	// Zero series so every outcome is exported from the start.
	for _, o := range Outcomes {
		m.iterations.WithLabelValues(string(o))
	}
	return m
}

// Registry exposes the registry for promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrStarted counts an iteration about to run.
func (m *Metrics) IncrStarted() {
	m.started.Inc()
}

// RecordResult updates all metrics from a single immutable Result.
// This is the ONLY way to update them apart from IncrStarted.
func (m *Metrics) RecordResult(r *Result) {
	m.iterations.WithLabelValues(string(r.Outcome)).Inc()
	if r.Intercepted() {
		m.statuses.WithLabelValues(string(r.Outcome), strconv.Itoa(r.Status)).Inc()
	}
	m.duration.Observe(r.Duration.Seconds())
	if r.RSSBytes > 0 {
		m.rss.Set(float64(r.RSSBytes))
	}
}

// Snapshot returns current counter values keyed by series, e.g.
// "iterations{outcome=exit}".
func (m *Metrics) Snapshot() (map[string]uint64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	snap := map[string]uint64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				key += fmt.Sprintf("{%s=%s}", lp.GetName(), lp.GetValue())
			}
			snap[key] = uint64(metric.GetCounter().GetValue())
		}
	}
	return snap, nil
}

// Export renders all metrics in the Prometheus text format.
func (m *Metrics) Export() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
