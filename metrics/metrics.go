// Package metrics holds the Prometheus collectors shared by the extraction,
// enrichment, refresh and query paths.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dealscout"

// Metrics bundles Prometheus collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	RecordsExtracted *prometheus.CounterVec
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	ListingsEnriched prometheus.Counter
	RecordsRejected  *prometheus.CounterVec
	RefreshesTotal   *prometheus.CounterVec
	RefreshDuration  prometheus.Histogram
	CachedListings   prometheus.Gauge
	LastRefreshed    prometheus.Gauge
	QueriesTotal     *prometheus.CounterVec
	DigestsTotal     *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_requests_total",
			Help:      "Total HTTP requests issued by extractors.",
		}, []string{"phase"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extractor_request_duration_seconds",
			Help:      "HTTP request latency for extractor requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		RecordsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_records_total",
			Help:      "Raw records produced by each extractor.",
		}, []string{"extractor"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_retries_total",
			Help:      "Total number of retry attempts scheduled.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_errors_total",
			Help:      "Total number of extractor errors by type.",
		}, []string{"error_type"}),
		ListingsEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_listings_total",
			Help:      "Listings produced by the enrichment pipeline.",
		}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_rejected_total",
			Help:      "Raw records dropped by the pipeline, by reason.",
		}, []string{"reason"}),
		RefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_attempts_total",
			Help:      "Refresh attempts by trigger and result.",
		}, []string{"trigger", "result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of refresh attempts.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		CachedListings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_listings",
			Help:      "Listings currently held in the cache.",
		}),
		LastRefreshed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_last_refreshed_timestamp_seconds",
			Help:      "Unix time of the last successful refresh.",
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Listing queries by outcome.",
		}, []string{"outcome"}),
		DigestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_total",
			Help:      "Digest deliveries by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.RecordsExtracted, m.RetriesTotal, m.ErrorsTotal,
		m.ListingsEnriched, m.RecordsRejected,
		m.RefreshesTotal, m.RefreshDuration, m.CachedListings, m.LastRefreshed,
		m.QueriesTotal, m.DigestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) AddRecords(extractor string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsExtracted.WithLabelValues(extractor).Add(float64(n))
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

func (m *Metrics) IncListing() {
	if m == nil {
		return
	}
	m.ListingsEnriched.Inc()
}

func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.RecordsRejected.WithLabelValues(reason).Inc()
}

// ObserveRefresh records a finished refresh attempt.
func (m *Metrics) ObserveRefresh(trigger, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(trigger, result).Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

// SetCache publishes the size and age of the committed collection.
func (m *Metrics) SetCache(count int, refreshedAt time.Time) {
	if m == nil {
		return
	}
	m.CachedListings.Set(float64(count))
	if !refreshedAt.IsZero() {
		m.LastRefreshed.Set(float64(refreshedAt.Unix()))
	}
}

func (m *Metrics) IncQuery(outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncDigest(result string) {
	if m == nil {
		return
	}
	m.DigestsTotal.WithLabelValues(result).Inc()
}
