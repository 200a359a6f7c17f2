package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvester. Every series is
// labelled by source so concurrent runs share one registry.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ItemsTotal       *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	CheckpointsTotal *prometheus.CounterVec
	SessionRefreshes *prometheus.CounterVec
	CategoriesTotal  *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total HTTP requests issued, by response status class.",
		},
		[]string{"source", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Items seen, by normalization outcome.",
		},
		[]string{"source", "outcome"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total number of retry attempts.",
		},
		[]string{"source"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total number of errors by type.",
		},
		[]string{"source", "error_type"},
	)
	checkpoints := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_checkpoints_total",
			Help: "Checkpoint writes by kind (state or chunk).",
		},
		[]string{"source", "kind"},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_session_refreshes_total",
			Help: "Session refreshes by result.",
		},
		[]string{"source", "result"},
	)
	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_categories_total",
			Help: "Categories finished, by how they ended.",
		},
		[]string{"source", "reason"},
	)

	registry.MustRegister(requests, requestDuration, items, retries, errorsTotal, checkpoints, sessions, categories)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		ItemsTotal:       items,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		CheckpointsTotal: checkpoints,
		SessionRefreshes: sessions,
		CategoriesTotal:  categories,
	}
}

// IncRequest increments the requests counter.
func (m *Metrics) IncRequest(source, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(source, status).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncItems counts one item with its outcome label.
func (m *Metrics) IncItems(source, outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(source, outcome).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(source string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(source).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(source, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(source, errorType).Inc()
}

func (m *Metrics) IncCheckpoint(source, kind string) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.WithLabelValues(source, kind).Inc()
}

func (m *Metrics) IncSessionRefresh(source, result string) {
	if m == nil {
		return
	}
	m.SessionRefreshes.WithLabelValues(source, result).Inc()
}

func (m *Metrics) IncCategory(source, reason string) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(source, reason).Inc()
}
