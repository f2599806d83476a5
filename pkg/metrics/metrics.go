package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinksIssued counts magic links created and dispatched.
	LinksIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maglink_links_issued_total",
			Help: "Total number of magic links issued",
		},
	)

	// Redemptions records redemption attempts by result (success|invalid|error).
	Redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maglink_redemptions_total",
			Help: "Total number of magic link redemption attempts",
		},
		[]string{"result"},
	)

	// TokensPurged counts expired token records removed by purge runs.
	TokensPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maglink_tokens_purged_total",
			Help: "Total number of expired token records purged",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maglink_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
