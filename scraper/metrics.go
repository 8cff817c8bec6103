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
	RecordsTotal    *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	BrandsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper, by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Candidates handled by the run, by verdict.",
		},
		[]string{"verdict"},
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
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	brands := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_brands_total",
			Help: "Brands processed, by status.",
		},
		[]string{"status"},
	)

	registry.MustRegister(requests, requestDuration, records, retries, errorsTotal, brands)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RecordsTotal:    records,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		BrandsTotal:     brands,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(outcome Outcome) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome.String()).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRecord counts one candidate verdict.
func (m *Metrics) IncRecord(verdict string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(verdict).Inc()
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

// IncBrand counts a finished brand.
func (m *Metrics) IncBrand(status string) {
	if m == nil {
		return
	}
	m.BrandsTotal.WithLabelValues(status).Inc()
}
