// Package metrics provides application-level Prometheus collectors.
// They register with the default registry and are served by `sg-archive serve` on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Archive counters.
var (
	RecordsArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_archive_records_archived_total",
		Help: "Records written to archive pages, by entity type.",
	}, []string{"entity_type"})

	PagesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_archive_pages_written_total",
		Help: "Page files written, by format.",
	}, []string{"format"})

	EntityTypesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_archive_entity_types_total",
		Help: "Entity type runs finished, by final state.",
	}, []string{"state"})
)

// Download counters.
var (
	DownloadsQueued    = promauto.NewCounter(prometheus.CounterOpts{Name: "sg_archive_downloads_queued_total", Help: "File downloads queued."})
	DownloadsCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "sg_archive_downloads_completed_total", Help: "File downloads completed."})
	DownloadsFailed    = promauto.NewCounter(prometheus.CounterOpts{Name: "sg_archive_downloads_failed_total", Help: "File downloads that failed."})
	DownloadsSkipped   = promauto.NewCounter(prometheus.CounterOpts{Name: "sg_archive_downloads_skipped_total", Help: "Files skipped by extension rules."})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sg_archive_download_duration_seconds",
		Help:    "Duration of individual file transfers.",
		Buckets: prometheus.DefBuckets,
	})
)

// Remote and mirror counters.
var (
	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_archive_remote_requests_total",
		Help: "Requests sent to the remote API, by operation and outcome.",
	}, []string{"operation", "outcome"})

	MirrorQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_archive_mirror_queries_total",
		Help: "Queries answered by the local mirror, by operation.",
	}, []string{"operation"})

	MirrorRecordsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_archive_mirror_records_loaded_total",
		Help: "Records loaded into the mirror, by entity type.",
	}, []string{"entity_type"})

	PageCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_archive_page_cache_lookups_total",
		Help: "Mirror page cache lookups, by result (hit or miss).",
	}, []string{"result"})
)

// Inc increments a labelled counter by 1.
func Inc(counter *prometheus.CounterVec, labels ...string) {
	counter.WithLabelValues(labels...).Inc()
}

// API counters.
var (
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sg_archive_api_requests_total",
		Help: "HTTP API requests, by route pattern and status code.",
	}, []string{"route", "code"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sg_archive_api_request_duration_seconds",
		Help:    "HTTP API request latency, by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
