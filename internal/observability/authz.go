package observability

import "github.com/prometheus/client_golang/prometheus"

// AuthzMetrics observes the privilege cache and access-control decisions.
// A nil receiver is valid and records nothing, so wiring stays optional in
// tests.
type AuthzMetrics struct {
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	invalidations prometheus.Counter
	flushes       prometheus.Counter
	denials       *prometheus.CounterVec
}

// NewAuthzMetrics registers the authorization metrics.
func NewAuthzMetrics(reg prometheus.Registerer) *AuthzMetrics {
	m := &AuthzMetrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formworks_privilege_cache_hits_total",
			Help: "Privilege rule resolutions served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formworks_privilege_cache_misses_total",
			Help: "Privilege rule resolutions that fell through to the store.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formworks_privilege_cache_invalidations_total",
			Help: "Per-user cache invalidations after assignment changes.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formworks_privilege_cache_flushes_total",
			Help: "Full cache flushes after privilege definition changes.",
		}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formworks_access_denials_total",
			Help: "Failed access-control checks by subject.",
		}, []string{"subject"}),
	}
	reg.MustRegister(m.cacheHits, m.cacheMisses, m.invalidations, m.flushes, m.denials)
	return m
}

// CacheHit counts a cache hit.
func (m *AuthzMetrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// CacheMiss counts a cache miss.
func (m *AuthzMetrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// CacheInvalidation counts a per-user invalidation.
func (m *AuthzMetrics) CacheInvalidation() {
	if m != nil {
		m.invalidations.Inc()
	}
}

// CacheFlush counts a full flush.
func (m *AuthzMetrics) CacheFlush() {
	if m != nil {
		m.flushes.Inc()
	}
}

// AccessDenied counts a failed check against the given subject.
func (m *AuthzMetrics) AccessDenied(subject string) {
	if m != nil {
		m.denials.WithLabelValues(subject).Inc()
	}
}
