// Package metrics provides Prometheus metrics for archive pushes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Remote call metrics
	syncCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlepush_sync_calls_total",
			Help: "Total number of versioning API calls",
		},
		[]string{"phase", "status"},
	)

	syncCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bundlepush_sync_call_duration_seconds",
			Help:    "Versioning API call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"phase"},
	)

	// Archive metrics
	archiveBytesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlepush_archive_bytes_loaded_total",
			Help: "Total archive bytes read into memory",
		},
		[]string{"source"},
	)

	// Workflow metrics
	blockingChanges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bundlepush_blocking_changes",
			Help: "Blocking changes reported by the most recent dry-run",
		},
	)

	pushOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlepush_push_outcomes_total",
			Help: "Push attempts by outcome",
		},
		[]string{"outcome"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bundlepush_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
)

// Push outcomes.
const (
	OutcomePushed   = "pushed"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
	OutcomeAborted  = "aborted"
)

// RecordSyncCall records a versioning API call.
func RecordSyncCall(phase string, duration time.Duration, success bool) {
	syncCallsTotal.WithLabelValues(phase, status(success)).Inc()
	syncCallDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordArchiveLoad records an archive read from the given source type.
func RecordArchiveLoad(source string, bytes int64) {
	archiveBytesLoaded.WithLabelValues(source).Add(float64(bytes))
}

// SetBlockingChanges sets the blocking change count of the latest dry-run.
func SetBlockingChanges(n int) {
	blockingChanges.Set(float64(n))
}

// RecordPushOutcome records how a push attempt ended.
func RecordPushOutcome(outcome string) {
	pushOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation, status(success)).Observe(duration.Seconds())
}

// WriteTextfile writes all registered metrics to path in the text exposition
// format, for pickup by the node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
