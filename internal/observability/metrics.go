// Package observability exposes Prometheus metrics for the ingestion
// and serving paths.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyerflipper_feed_requests_total",
			Help: "Feed HTTP requests by outcome",
		},
		[]string{"outcome"},
	)

	DealsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyerflipper_deals_ingested_total",
			Help: "Deals persisted by disposition (saved, updated, skipped)",
		},
		[]string{"disposition"},
	)

	DealsCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flyerflipper_deals_cleaned_total",
			Help: "Expired deals removed by cleanup jobs",
		},
	)

	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flyerflipper_refresh_duration_seconds",
			Help:    "Wall-clock duration of bulk refresh passes",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyerflipper_cache_lookups_total",
			Help: "Search cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		FeedRequestsTotal,
		DealsIngestedTotal,
		DealsCleanedTotal,
		RefreshDuration,
		CacheLookupsTotal,
	)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
