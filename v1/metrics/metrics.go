package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheCollectors groups the collectors updated by cache.Manager. The tier
// label is either "persistent" or "request".
type CacheCollectors struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Sets          *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
}

// NewCacheCollectors creates the cache collectors and registers them on reg.
// Registering twice on the same registry panics.
func NewCacheCollectors(reg prometheus.Registerer) *CacheCollectors {
	c := &CacheCollectors{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cache_hits_total",
			Help: "Total number of cache hits",
		}, []string{"tier"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cache_misses_total",
			Help: "Total number of cache misses",
		}, []string{"tier"}),
		Sets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cache_sets_total",
			Help: "Total number of cache writes",
		}, []string{"tier"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cache_invalidated_keys_total",
			Help: "Total number of cache entries removed by invalidation",
		}, []string{"tier"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cache_errors_total",
			Help: "Total number of failed cache operations",
		}, []string{"op"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_cache_latency_seconds",
			Help:    "Latency of persistent cache operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(c.Hits, c.Misses, c.Sets, c.Invalidations, c.Errors, c.Latency)
	return c
}

// LockCollectors groups the collectors updated by the lock managers. The kind
// label is either "simple" or "queued".
type LockCollectors struct {
	Acquired *prometheus.CounterVec
	Timeouts *prometheus.CounterVec
	Released *prometheus.CounterVec
	Wait     *prometheus.HistogramVec
}

// NewLockCollectors creates the lock collectors and registers them on reg.
func NewLockCollectors(reg prometheus.Registerer) *LockCollectors {
	l := &LockCollectors{
		Acquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_lock_acquired_total",
			Help: "Total number of acquired locks",
		}, []string{"kind"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_lock_timeouts_total",
			Help: "Total number of lock acquisitions that timed out",
		}, []string{"kind"}),
		Released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_lock_released_total",
			Help: "Total number of release calls by outcome",
		}, []string{"kind", "owned"}),
		Wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_lock_wait_seconds",
			Help:    "Time spent waiting for a lock",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	reg.MustRegister(l.Acquired, l.Timeouts, l.Released, l.Wait)
	return l
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
