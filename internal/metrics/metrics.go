// Package metrics exposes Prometheus instrumentation for ingestion and search.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion outcome labels
const (
	StatusInserted  = "inserted"
	StatusSkipped   = "skipped_unchanged"
	StatusFailed    = "failed"
	StatusOK        = "ok"
	StatusError     = "error"
	StatusTimeout   = "timeout"
	StatusAborted   = "aborted"
	StatusCompleted = "completed"
)

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ingestDocuments *prometheus.CounterVec
	ingestRuns      *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	ingestInFlight  prometheus.Gauge

	searchRequests *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  prometheus.Histogram
}

// New creates and registers all collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	ingestDocuments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadith",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents processed by ingestion, by outcome.",
		},
		[]string{"status"},
	)
	ingestRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadith",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		},
		[]string{"status"},
	)
	ingestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "hadith",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
	ingestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hadith",
			Subsystem: "ingest",
			Name:      "in_flight_documents",
			Help:      "Documents currently being embedded or written.",
		},
	)
	searchRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hadith",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests by routed intent and outcome.",
		},
		[]string{"intent", "status"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hadith",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency by routed intent.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"intent"},
	)
	searchResults := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "hadith",
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	registry.MustRegister(ingestDocuments, ingestRuns, ingestDuration, ingestInFlight,
		searchRequests, searchDuration, searchResults)

	return &Metrics{
		registry:        registry,
		ingestDocuments: ingestDocuments,
		ingestRuns:      ingestRuns,
		ingestDuration:  ingestDuration,
		ingestInFlight:  ingestInFlight,
		searchRequests:  searchRequests,
		searchDuration:  searchDuration,
		searchResults:   searchResults,
	}
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DocumentStarted() {
	if m == nil {
		return
	}
	m.ingestInFlight.Inc()
}

// DocumentFinished records one document outcome (StatusInserted etc.)
func (m *Metrics) DocumentFinished(status string) {
	if m == nil {
		return
	}
	m.ingestInFlight.Dec()
	m.ingestDocuments.WithLabelValues(status).Inc()
}

// DocumentCounted records an outcome for a document that never went in flight
func (m *Metrics) DocumentCounted(status string) {
	if m == nil {
		return
	}
	m.ingestDocuments.WithLabelValues(status).Inc()
}

func (m *Metrics) IngestRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestRuns.WithLabelValues(status).Inc()
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) Search(intent, status string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.searchRequests.WithLabelValues(intent, status).Inc()
	m.searchDuration.WithLabelValues(intent).Observe(d.Seconds())
	if status == StatusOK {
		m.searchResults.Observe(float64(results))
	}
}
