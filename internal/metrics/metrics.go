// Package metrics provides Prometheus metrics for remotecpp.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	jobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotecpp_jobs_submitted_total",
			Help: "Total number of jobs accepted by the scheduler",
		},
		[]string{"kind"},
	)

	jobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotecpp_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"kind", "status"},
	)

	jobsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotecpp_jobs_rejected_total",
			Help: "Total number of submissions rejected as busy",
		},
		[]string{"kind"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remotecpp_job_duration_seconds",
			Help:    "Remote job duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"kind"},
	)

	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remotecpp_jobs_in_flight",
			Help: "Number of queued or running jobs",
		},
	)

	// Surface metrics
	staleChunksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotecpp_stale_chunks_dropped_total",
			Help: "Output chunks discarded because a newer generation owns the surface",
		},
		[]string{"kind"},
	)

	navigationEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotecpp_navigation_entries_total",
			Help: "Navigation entries parsed from job output",
		},
		[]string{"kind"},
	)

	// Index metrics
	indexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remotecpp_index_entries",
			Help: "Number of entries in the remote index cache",
		},
	)

	indexIngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "remotecpp_index_ingest_duration_seconds",
			Help:    "Time to ingest a remote file listing",
			Buckets: prometheus.DefBuckets,
		},
	)

	// State metrics
	stateSaveBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remotecpp_state_save_bytes",
			Help: "Size of the last persisted state blob",
		},
	)

	stateSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotecpp_state_saves_total",
			Help: "Total state checkpoint attempts",
		},
		[]string{"status"},
	)

	stateCorruptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remotecpp_state_corrupt_total",
			Help: "Persisted state blobs rejected as corrupt",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordJobSubmitted records a job accepted by the scheduler.
func RecordJobSubmitted(kind string) {
	jobsSubmittedTotal.WithLabelValues(kind).Inc()
}

// RecordJobFinished records a terminal job status and its duration.
func RecordJobFinished(kind, status string, duration time.Duration) {
	jobsFinishedTotal.WithLabelValues(kind, status).Inc()
	if duration > 0 {
		jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordJobRejected records a busy rejection.
func RecordJobRejected(kind string) {
	jobsRejectedTotal.WithLabelValues(kind).Inc()
}

func SetJobsInFlight(n int) {
	jobsInFlight.Set(float64(n))
}

func RecordStaleChunk(kind string) {
	staleChunksDropped.WithLabelValues(kind).Inc()
}

func RecordNavigationEntries(kind string, n int) {
	if n <= 0 {
		return
	}
	navigationEntriesTotal.WithLabelValues(kind).Add(float64(n))
}

// SetIndexEntries sets the current size of the index cache.
func SetIndexEntries(n int) {
	indexEntries.Set(float64(n))
}

func RecordIndexIngest(duration time.Duration) {
	indexIngestDuration.Observe(duration.Seconds())
}

// RecordStateSave records a checkpoint attempt.
func RecordStateSave(bytes int, success bool) {
	status := "success"
	if !success {
		status = "error"
	} else {
		stateSaveBytes.Set(float64(bytes))
	}
	stateSavesTotal.WithLabelValues(status).Inc()
}

func RecordCorruptState() {
	stateCorruptTotal.Inc()
}
