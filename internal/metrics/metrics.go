// Package metrics exposes the gateway's Prometheus instruments.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts page cache lookups. result: hit, miss
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playshelf_cache_lookups_total",
		Help: "Response cache lookups by tier and result.",
	}, []string{"tier", "result"})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playshelf_cache_evictions_total",
		Help: "Response cache entries removed, by reason.",
	}, []string{"reason"}) // reason: capacity, expired, invalidated

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playshelf_upstream_requests_total",
		Help: "Requests sent to the game database by endpoint and status class.",
	}, []string{"endpoint", "status"})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playshelf_upstream_request_duration_seconds",
		Help:    "Duration of single upstream attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	TokenRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playshelf_token_renewals_total",
		Help: "OAuth2 token renewal round-trips by outcome.",
	}, []string{"outcome"}) // outcome: success, failure

	RateLimitWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playshelf_rate_limit_wait_seconds",
		Help:    "Time callers spent waiting for a rate limiter token.",
		Buckets: []float64{0, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playshelf_search_duration_seconds",
		Help:    "End-to-end gateway operation duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	ClientRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playshelf_client_rate_limited_total",
		Help: "Inbound requests rejected by the per-client rate limit.",
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playshelf_circuit_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
	}, []string{"breaker"})
)

// StatusClass buckets an HTTP status into 2xx, 4xx, ...; 0 means the request
// never produced a response.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// RecordUpstream records one upstream attempt.
func RecordUpstream(endpoint string, status int, elapsed time.Duration) {
	UpstreamRequests.WithLabelValues(endpoint, StatusClass(status)).Inc()
	UpstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordCacheLookup records a hit or miss on a cache tier.
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordOperation records how long a gateway operation took and how it ended.
func RecordOperation(operation, result string, start time.Time) {
	SearchDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}
