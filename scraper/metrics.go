package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ItemsFoundTotal prometheus.Counter
	NotFoundTotal   *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	BatchesTotal    *prometheus.CounterVec
	CacheHitsTotal  prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total product page requests by HTTP status class.",
		},
		[]string{"status"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for product page requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsFound := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_found_total",
			Help: "Total number of product ids that resolved to an item.",
		},
	)
	notFound := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_not_found_total",
			Help: "Total number of product ids without a live product, by reason.",
		},
		[]string{"reason"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of transport errors by type.",
		},
		[]string{"error_type"},
	)
	batches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_batches_total",
			Help: "Total number of id batches processed, by resulting driver state.",
		},
		[]string{"state"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_cache_hits_total",
			Help: "Lookups answered from the per-run result cache.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsFound, notFound, retries, errorsTotal, batches, cacheHits)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ItemsFoundTotal: itemsFound,
		NotFoundTotal:   notFound,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		BatchesTotal:    batches,
		CacheHitsTotal:  cacheHits,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncFound increments the items found counter.
func (m *Metrics) IncFound() {
	if m == nil {
		return
	}
	m.ItemsFoundTotal.Inc()
}

// IncNotFound increments the not found counter for a reason label.
func (m *Metrics) IncNotFound(reason string) {
	if m == nil {
		return
	}
	m.NotFoundTotal.WithLabelValues(reason).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncBatch increments the batch counter for a driver state label.
func (m *Metrics) IncBatch(state string) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(state).Inc()
}

// IncCacheHit increments the cache hit counter.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}
