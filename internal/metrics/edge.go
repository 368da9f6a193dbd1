package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Edge-side metrics: window credits, LATEST_WINS drops, degradation
// attempts, ingest retries/failures, orchestrator state, reconnects.
var (
	WindowSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionpipe_edge_window_size",
		Help: "Current sliding-window size (credits) on the active connection",
	})

	WindowInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionpipe_edge_window_inflight",
		Help: "Frames sent whose Result has not yet arrived",
	})

	LatestWinsDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_edge_latest_wins_drops_total",
		Help: "Total frames replaced by a newer one under LATEST_WINS backpressure",
	})

	DegradationAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_edge_degradation_attempts_total",
		Help: "Total codec degradation attempts triggered",
	})

	DegradationExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_edge_degradation_exhausted_total",
		Help: "Total times degradation gave up after reaching the attempt limit",
	})

	IngestRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionpipe_edge_ingest_retries_total",
		Help: "Total ingest POST retries, by reason",
	}, []string{"reason"})

	IngestFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_edge_ingest_failures_total",
		Help: "Total ingest items abandoned after exhausting retries",
	})

	OrchestratorState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionpipe_edge_orchestrator_state",
		Help: "Current orchestrator FSM state (0=IDLE,1=DWELL,2=ACTIVE,3=CLOSING)",
	})

	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_edge_reconnects_total",
		Help: "Total TCP client reconnects to the inference worker",
	})

	FrameCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionpipe_edge_frame_cache_size",
		Help: "Number of frames currently held in the frame cache",
	})

	IngestPoolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionpipe_edge_ingest_pool_queue_depth",
		Help: "Number of ingest tasks queued or running in the bounded worker pool",
	})

	IngestPoolTasksRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_edge_ingest_pool_tasks_rejected_total",
		Help: "Total ingest tasks dropped because the worker pool queue was full",
	})
)

// OrchestratorStateValue maps an FSM state name to the gauge value used by
// OrchestratorState.
func OrchestratorStateValue(state string) float64 {
	switch state {
	case "IDLE":
		return 0
	case "DWELL":
		return 1
	case "ACTIVE":
		return 2
	case "CLOSING":
		return 3
	default:
		return -1
	}
}
