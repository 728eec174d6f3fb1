// Package metrics exposes Prometheus counters for the cache, rotation and cleanup paths.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "session_lifecycle"

// Metrics holds the service's collectors and the registry they are registered on.
type Metrics struct {
	registry       *prometheus.Registry
	cacheHits      *prometheus.CounterVec
	cacheMisses    prometheus.Counter
	remoteErrors   *prometheus.CounterVec
	rotations      *prometheus.CounterVec
	revocations    *prometheus.CounterVec
	cleanupDeleted prometheus.Counter
}

// New creates the collectors on a fresh registry, together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Lookups that missed both cache tiers.",
		}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "remote_errors_total",
			Help: "Remote cache tier failures absorbed by the local tier.",
		}, []string{"op"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refresh_total",
			Help: "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "revoked_total",
			Help: "Sessions revoked by reason.",
		}, []string{"reason"}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "cleanup_deleted_total",
			Help: "Expired sessions hard-deleted by the cleanup job.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheHits, m.cacheMisses, m.remoteErrors,
		m.rotations, m.revocations, m.cleanupDeleted,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheHit(tier string) {
	if m != nil {
		m.cacheHits.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) CacheRemoteError(op string) {
	if m != nil {
		m.remoteErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Rotation(outcome string) {
	if m != nil {
		m.rotations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Revoked(reason string, n int) {
	if m != nil && n > 0 {
		m.revocations.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) CleanupDeleted(n int) {
	if m != nil && n > 0 {
		m.cleanupDeleted.Add(float64(n))
	}
}
