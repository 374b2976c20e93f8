package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_fetched_total",
			Help: "Pages fetched, by kind (listing, detail) and result.",
		},
		[]string{"kind", "result"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Duration of page fetches.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
		},
		[]string{"kind"},
	)

	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_candidates_total",
			Help: "Candidate detail URLs by decision (dispatched, seen, filtered).",
		},
		[]string{"decision"},
	)

	ExtractionSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_extraction_steps_total",
			Help: "Extraction engine step outcomes.",
		},
		[]string{"step", "outcome"},
	)

	ListingsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_listings_persisted_total",
			Help: "Listings written to the store, by operation (insert, update, failed).",
		},
		[]string{"op"},
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_rejections_total",
			Help: "Items dropped by the crawl, by reason.",
		},
		[]string{"reason"},
	)

	DedupDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_dedup_degraded_total",
			Help: "Times the dedup cache switched to pass-through mode.",
		},
	)

	CrawlRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_runs_total",
			Help: "Crawl child process runs by final state.",
		},
		[]string{"state"},
	)

	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_backups_total",
			Help: "Database backups by result.",
		},
		[]string{"result"},
	)
)
