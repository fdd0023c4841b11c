// Package metrics exposes Prometheus collectors for the harvest pipeline
// and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched tracks listing and detail pages fetched successfully.
	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_fetched_total",
		Help: "The total number of tracker pages fetched successfully.",
	})
	// FetchErrors tracks fetch or parse failures; these are non-fatal.
	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_errors_total",
		Help: "The total number of failed page fetches.",
	})
	// RecordsSaved tracks projects upserted into the store.
	RecordsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_records_saved_total",
		Help: "The total number of project records saved.",
	})
	// SaveFailures tracks store writes that failed after retries.
	SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_save_failures_total",
		Help: "The total number of project saves that failed.",
	})
	// RecordsSkipped tracks projects skipped because their identity was
	// already harvested.
	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_records_skipped_total",
		Help: "The total number of already-harvested projects skipped.",
	})
	// RecordsRejected tracks merged records that failed validation.
	RecordsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_records_rejected_total",
		Help: "The total number of records rejected by validation.",
	})

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)
