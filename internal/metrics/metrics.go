// Package metrics holds the prometheus collectors of the download pool and the update runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Collectors are registered once with the default registry.
var (
	DownloadAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distroget_download_attempts_total",
		Help: "Total number of transfer attempts",
	})

	DownloadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distroget_downloads_completed_total",
		Help: "Total number of URLs downloaded successfully",
	})

	DownloadsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distroget_downloads_skipped_total",
		Help: "Total number of URLs whose file was already present",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distroget_downloads_failed_total",
		Help: "Total number of URLs that failed permanently",
	})

	DownloadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distroget_download_retries_total",
		Help: "Total number of retries after transient failures",
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distroget_download_bytes_total",
		Help: "Total bytes downloaded",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "distroget_download_duration_seconds",
		Help:    "Duration of successful transfers in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distroget_runs_total",
		Help: "Total number of update runs by status",
	}, []string{"status"})

	DistributionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distroget_distribution_outcomes_total",
		Help: "Total number of distribution checks by outcome",
	}, []string{"distribution", "outcome"})

	Deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distroget_deployments_total",
		Help: "Total number of deployment uploads by result",
	}, []string{"result"})
)
