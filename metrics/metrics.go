// Package metrics provides Prometheus metrics for the partnermatch service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns all Prometheus collectors for the service. A nil *Manager is
// valid and turns every recording method into a no-op, so components can be
// wired with or without instrumentation.
type Manager struct {
	registry *prometheus.Registry

	// HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Feature store
	writesAccepted prometheus.Counter
	writesRejected prometheus.Counter
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter

	// Ranking engine
	rankingLatency    prometheus.Histogram
	degradedResponses prometheus.Counter
	droppedCandidates prometheus.Counter
	poolSizeUsed      prometheus.Histogram
}

// NewManager creates a manager with its own registry.
func NewManager(namespace string) *Manager {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Manager{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		writesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_writes_accepted_total",
			Help:      "Feature records accepted by the write path.",
		}),
		writesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_writes_rejected_total",
			Help:      "Feature records rejected by validation or timestamp conflict.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serving_cache_hits_total",
			Help:      "Online lookups served from the cache.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serving_cache_misses_total",
			Help:      "Online lookups that fell through to storage.",
		}),
		rankingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranking_duration_seconds",
			Help:      "End-to-end recommendation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		degradedResponses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_responses_total",
			Help:      "Recommendations served from cached or stale data.",
		}),
		droppedCandidates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_candidates_total",
			Help:      "Candidates dropped from ranking pools due to lookup failure or timeout.",
		}),
		poolSizeUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidate_pool_size",
			Help:      "Candidate pool size used per recommendation.",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
		}),
	}
}

// Handler returns the scrape endpoint handler for this manager's registry.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Manager) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// WriteAccepted records one accepted feature record.
func (m *Manager) WriteAccepted() {
	if m == nil {
		return
	}
	m.writesAccepted.Inc()
}

// WriteRejected records one rejected feature record.
func (m *Manager) WriteRejected() {
	if m == nil {
		return
	}
	m.writesRejected.Inc()
}

// CacheHit records an online lookup served from cache.
func (m *Manager) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss records an online lookup that fell through to storage.
func (m *Manager) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// ObserveRanking records one recommendation request.
func (m *Manager) ObserveRanking(duration time.Duration, poolSize, dropped int, degraded bool) {
	if m == nil {
		return
	}
	m.rankingLatency.Observe(duration.Seconds())
	m.poolSizeUsed.Observe(float64(poolSize))
	if dropped > 0 {
		m.droppedCandidates.Add(float64(dropped))
	}
	if degraded {
		m.degradedResponses.Inc()
	}
}
