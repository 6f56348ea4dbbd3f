package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AppendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segmentstore_appends_total",
		Help: "Appends handled by the segment store by result",
	}, []string{"result"})

	ConditionalConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segmentstore_conditional_conflicts_total",
		Help: "Conditional appends rejected because the segment length did not match",
	})

	OperationsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "durablelog_operations_committed_total",
		Help: "Operations that received a sequence number and were persisted",
	})

	FramesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "durablelog_frames_written_total",
		Help: "Data frames persisted to the data log",
	})

	FrameBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "durablelog_frame_bytes",
		Help:    "Encoded size of persisted data frames",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	})

	CheckpointsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "durablelog_checkpoints_total",
		Help: "Metadata checkpoints written",
	})

	TruncationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "durablelog_truncations_total",
		Help: "Data log truncations performed at valid truncation points",
	})

	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "segmentstore_active_connections",
		Help: "Client connections currently served",
	})
)

// RecordAppend counts one append by its outcome.
func RecordAppend(result string) {
	AppendsTotal.WithLabelValues(result).Inc()
	if result == "conditional_failed" {
		ConditionalConflicts.Inc()
	}
}

// RecordFrame accounts for one persisted frame holding ops operations.
func RecordFrame(ops int, size int) {
	FramesWritten.Inc()
	OperationsCommitted.Add(float64(ops))
	FrameBytes.Observe(float64(size))
}
