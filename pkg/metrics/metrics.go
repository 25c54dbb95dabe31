package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the command-line worker, registered on the default
// registry via promauto and served by the ops server.
var (
	// --- Job metrics ---

	// JobsTotal counts processed jobs by terminal status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmdworker",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of processed jobs by status",
		},
		[]string{"status"},
	)

	// JobDuration tracks end-to-end job processing duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cmdworker",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job processing in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1.8h
		},
		[]string{"status"},
	)

	// JobsRunning tracks jobs currently executing on this worker.
	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cmdworker",
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Number of jobs currently executing on this worker",
		},
	)

	// OutputBytes observes the size of captured command output.
	OutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cmdworker",
			Subsystem: "jobs",
			Name:      "output_bytes",
			Help:      "Size of captured command output in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 12), // 64B to ~256MB
		},
	)

	// MessagesTruncated counts result messages capped at the size limit.
	MessagesTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cmdworker",
			Subsystem: "jobs",
			Name:      "messages_truncated_total",
			Help:      "Total result messages truncated to the size cap",
		},
	)

	// --- Worker metrics ---

	// HeartbeatsSent counts registry heartbeats sent by this worker.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cmdworker",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent to the node registry",
		},
	)

	// QueueErrors counts queue transport failures (pop, ack, publish).
	QueueErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cmdworker",
			Subsystem: "queue",
			Name:      "errors_total",
			Help:      "Total queue transport errors",
		},
	)

	// ArchiveErrors counts failed output archive writes.
	ArchiveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cmdworker",
			Subsystem: "archive",
			Name:      "errors_total",
			Help:      "Total failed output archive writes",
		},
	)
)

// RecordJob records metrics for one processed job.
func RecordJob(status string, durationSeconds float64, outputBytes int) {
	JobsTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(status).Observe(durationSeconds)
	OutputBytes.Observe(float64(outputBytes))
}
