package querycache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	cacheOfflineHits    prometheus.Counter
	cacheStaleRefetches prometheus.Counter
	cacheFetchRetries   prometheus.Counter
	cacheFetchErrors    prometheus.Counter
	cacheEvictions      prometheus.Counter
	cacheInvalidations  prometheus.Counter

	mutationSuccess prometheus.Counter
	mutationErrors  prometheus.Counter
)

func init() {
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_hits_total",
		Help: "Reads served from a fresh cached value",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_misses_total",
		Help: "Reads that had no usable cached value",
	})

	cacheOfflineHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_offline_hits_total",
		Help: "Reads served from cache while offline",
	})

	cacheStaleRefetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_stale_refetches_total",
		Help: "Refetches triggered by stale cached values",
	})

	cacheFetchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_fetch_retries_total",
		Help: "Fetch attempts beyond the first",
	})

	cacheFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_fetch_errors_total",
		Help: "Fetches failed after exhausting attempts",
	})

	cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_evictions_total",
		Help: "Entries evicted by the gc pass",
	})

	cacheInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_invalidations_total",
		Help: "Entries marked stale by prefix invalidation",
	})

	mutationSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mutation_success_total",
		Help: "Mutations completed and reconciled",
	})

	mutationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mutation_errors_total",
		Help: "Mutations failed after exhausting attempts",
	})

	prometheus.MustRegister(cacheHits, cacheMisses, cacheOfflineHits,
		cacheStaleRefetches, cacheFetchRetries, cacheFetchErrors,
		cacheEvictions, cacheInvalidations, mutationSuccess, mutationErrors)
}
