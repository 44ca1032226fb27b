// v1
// internal/dashboard/metrics.go
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"homemon/internal/breaker"
)

// Metrics is the dashboard's Prometheus surface. It also observes the
// freshness cache.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	acquireDuration   prometheus.Histogram
	acquireErrors     prometheus.Counter
	prunedTotal       prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	archiveTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Requests served from a fresh stored reading.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Requests that found the stored reading stale or missing.",
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "node_acquire_duration_seconds",
			Help:    "Histogram of successful sensor node acquisitions.",
			Buckets: prometheus.DefBuckets,
		}),
		acquireErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "node_acquire_errors_total",
			Help: "Total failed sensor node acquisitions.",
		}),
		prunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "readings_pruned_total",
			Help: "Readings deleted by retention or the admin prune.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reading_events_total",
			Help: "Reading events handed to Kafka by outcome.",
		}, []string{"outcome"}),
		archiveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_uploads_total",
			Help: "Archive uploads by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.cacheHits,
		m.cacheMisses,
		m.acquireDuration,
		m.acquireErrors,
		m.prunedTotal,
		m.eventsTotal,
		m.archiveTotal,
	)
	return m
}

// TrackBreaker exports the state of b as cb_state{target=...}
// (0 closed, 1 half, 2 open).
func (m *Metrics) TrackBreaker(target string, b *breaker.Breaker) {
	if m == nil || b == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "cb_state",
		Help:        "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		ConstLabels: prometheus.Labels{"target": target},
	}, func() float64 {
		switch b.State() {
		case breaker.HalfOpen:
			return 1
		case breaker.Open:
			return 2
		default:
			return 0
		}
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) AcquireSucceeded(d time.Duration) {
	if m == nil {
		return
	}
	m.acquireDuration.Observe(d.Seconds())
}

func (m *Metrics) AcquireFailed() {
	if m == nil {
		return
	}
	m.acquireErrors.Inc()
}

func (m *Metrics) Pruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.prunedTotal.Add(float64(n))
}

func (m *Metrics) EventPublished(ok bool) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) ArchiveUploaded(ok bool) {
	if m == nil {
		return
	}
	m.archiveTotal.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
