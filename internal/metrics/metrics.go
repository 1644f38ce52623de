// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventletter"

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	OracleCalls    *prometheus.CounterVec
	OracleDuration *prometheus.HistogramVec
	CacheLookups   *prometheus.CounterVec
	CacheWriteErrs *prometheus.CounterVec
	Runs           *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	EventsScraped  *prometheus.CounterVec
}

var (
	once    sync.Once
	metrics *Metrics
)

// Default returns the process-wide collectors, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	Default()
	return promhttp.Handler()
}

func initMetrics() *Metrics {
	m := &Metrics{}

	m.OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_calls_total",
		Help:      "Language model calls by provider, purpose and outcome",
	}, []string{"provider", "purpose", "outcome"})

	m.OracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "oracle_call_duration_seconds",
		Help:      "Latency of a single language model call",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"provider"})

	m.CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Description cache lookups by table and result (hit, miss)",
	}, []string{"table", "result"})

	m.CacheWriteErrs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_write_errors_total",
		Help:      "Failed best-effort cache writes by table",
	}, []string{"table"})

	m.Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "categorize_runs_total",
		Help:      "Categorization runs by outcome (ok or error kind)",
	}, []string{"outcome"})

	m.RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "categorize_run_duration_seconds",
		Help:      "Wall time of a categorization run",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	m.EventsScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_scraped_total",
		Help:      "Events collected per source",
	}, []string{"source"})

	return m
}

// CacheHit records a lookup on table.
func (m *Metrics) CacheHit(table string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(table, result).Inc()
}
