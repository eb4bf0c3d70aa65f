package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkCacheHit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "check_cache_hit",
		Help: "The total number of admission checks answered from cache.",
	})
	checkCacheMiss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "check_cache_miss",
		Help: "The total number of admission checks sent upstream.",
	})
	checkFlushedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "check_flushed_requests",
		Help: "The total number of refresh requests produced by check flushes.",
	})

	quotaCacheHit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quota_cache_hit",
		Help: "The total number of quota allocations answered from cache.",
	})
	quotaCacheMiss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quota_cache_miss",
		Help: "The total number of quota allocations sent upstream.",
	})
	quotaFlushedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quota_flushed_requests",
		Help: "The total number of refresh requests produced by quota flushes.",
	})

	reportCacheAbsorbed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_cache_absorbed",
		Help: "The total number of report operations absorbed into the cache.",
	})
	reportCacheRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_cache_rejected",
		Help: "The total number of report requests refused caching and sent synchronously.",
	})
	reportFlushedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_flushed_requests",
		Help: "The total number of batched requests produced by report flushes.",
	})
)
