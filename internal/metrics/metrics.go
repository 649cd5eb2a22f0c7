// Package metrics exposes Prometheus collectors for the cotation service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cotation"

// Metrics holds the service collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	ratingsTotal      *prometheus.CounterVec
	savesTotal        *prometheus.CounterVec
	gridCacheLookups  *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		ratingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_total",
			Help:      "Rating events by outcome (recorded, rejected).",
		}, []string{"outcome"}),
		savesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Cotation save attempts by status (saved, failed).",
		}, []string{"status"}),
		gridCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_cache_lookups_total",
			Help:      "Grid schema cache lookups by result (hit, miss).",
		}, []string{"result"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open scoring sessions.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.ratingsTotal,
		m.savesTotal,
		m.gridCacheLookups,
		m.sessionsActive,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RatingRecorded counts an applied rating.
func (m *Metrics) RatingRecorded() {
	if m == nil {
		return
	}
	m.ratingsTotal.WithLabelValues("recorded").Inc()
}

// RatingRejected counts a rating refused as out of range.
func (m *Metrics) RatingRejected() {
	if m == nil {
		return
	}
	m.ratingsTotal.WithLabelValues("rejected").Inc()
}

// SaveCompleted counts a save attempt by ledger status.
func (m *Metrics) SaveCompleted(status string) {
	if m == nil {
		return
	}
	m.savesTotal.WithLabelValues(status).Inc()
}

// SessionsActive sets the open session gauge.
func (m *Metrics) SessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// GridCacheLookup counts a grid cache hit or miss.
func (m *Metrics) GridCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.gridCacheLookups.WithLabelValues(result).Inc()
}

// CounterFunc exposes a counter kept elsewhere (worker, bus, driver stats)
// and read at scrape time. fn must be monotonic.
func (m *Metrics) CounterFunc(name, help string, labels prometheus.Labels, fn func() float64) error {
	return m.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn))
}

// GaugeFunc exposes a value read at scrape time.
func (m *Metrics) GaugeFunc(name, help string, labels prometheus.Labels, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn))
}
