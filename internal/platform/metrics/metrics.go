// Package metrics exposes Prometheus instrumentation for the sync pipeline
// and the HTTP API. Collectors are package-level and registered via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TMDB client

	TMDBRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmdb_requests_total",
			Help: "Outbound TMDB API requests by endpoint group and outcome (ok, not_found, throttled, error).",
		},
		[]string{"endpoint", "outcome"},
	)

	TMDBRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tmdb_request_duration_seconds",
			Help:    "Duration of TMDB API requests.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tmdb_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// Crawl engine

	CrawlPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Discovery pages fetched per category.",
		},
		[]string{"category"},
	)

	CrawlItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_items_total",
			Help: "Crawled items by category and outcome (upserted, failed).",
		},
		[]string{"category", "outcome"},
	)

	// Bulk import

	ImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imdb_import_rows_total",
			Help: "Rows accepted per dataset during bulk import.",
		},
		[]string{"dataset"},
	)

	// Identity resolution

	ResolveLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolve_lookups_total",
			Help: "Identity resolution lookups by source (cache, live) and outcome.",
		},
		[]string{"source", "outcome"},
	)

	// Lists

	ListRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "list_refreshes_total",
			Help: "List refresh runs by outcome (ok, error).",
		},
		[]string{"outcome"},
	)
)
