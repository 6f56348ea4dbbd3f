package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RouterRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "writer_segment_refreshes_total",
		Help: "Segment snapshot refreshes performed by writers by kind",
	}, []string{"kind"})

	EventsResubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_events_resubmitted_total",
		Help: "Unacknowledged events resent after their segment writer was closed",
	})

	EventsAcked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_events_acked_total",
		Help: "Events acknowledged by the segment store",
	})

	ActiveSegmentWriters = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "writer_active_segment_writers",
		Help: "Segment output streams currently open",
	})
)
