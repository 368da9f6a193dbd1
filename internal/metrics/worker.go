package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker-side metrics: per-stage latency histograms, model-pool load
// counts, active sessions, segment rotations.
var (
	StageLatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "visionpipe_worker_stage_latency_ms",
		Help:    "Per-stage processing latency in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5ms .. ~4s
	}, []string{"stage"}) // decode|infer|post|total

	ModelLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionpipe_worker_model_loads_total",
		Help: "Total model-pool load attempts, by model and outcome",
	}, []string{"model", "outcome"}) // outcome: success|failure

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionpipe_worker_active_connections",
		Help: "Number of open TCP connections from edge agents",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionpipe_worker_active_sessions",
		Help: "Number of session writers currently open",
	})

	SegmentRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_worker_segment_rotations_total",
		Help: "Total session-writer segment rotations",
	})

	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionpipe_worker_frames_processed_total",
		Help: "Total frames processed, by outcome",
	}, []string{"outcome"}) // ok|decode_error|model_not_ready

	TrackerResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_worker_tracker_resets_total",
		Help: "Total tracker resets on new session_id",
	})
)
