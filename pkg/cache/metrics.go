package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups answered from the run cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_cache_hits_total",
			Help: "Total number of fetch cache hits",
		},
	)

	// CacheMisses tracks lookups that need an upstream call
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_cache_misses_total",
			Help: "Total number of fetch cache misses",
		},
	)

	// CacheEntries tracks entries written across runs
	CacheEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_cache_entries_total",
			Help: "Total number of fetch cache entries written",
		},
	)
)
