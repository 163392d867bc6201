package connector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool and dial metrics, shared by all per-worker pools.
var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastproxy_pool_hits_total",
		Help: "Pooled upstream connections reused.",
	})
	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fastproxy_pool_misses_total",
		Help: "Pool checkouts that found no reusable connection.",
	})
	poolEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastproxy_pool_evictions_total",
		Help: "Idle connections evicted from the pool.",
	}, []string{"reason"}) // expired|dead|capacity
	upstreamDials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastproxy_upstream_dials_total",
		Help: "Upstream dial attempts.",
	}, []string{"outcome"}) // ok|error|timeout
)
