package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	reconnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenectl",
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Session reconnect attempts by outcome.",
		},
		[]string{"outcome"},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenectl",
			Subsystem: "transport",
			Name:      "protocol_errors_total",
			Help:      "Protocol errors by code.",
		},
		[]string{"code"},
	)
	sessionResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scenectl",
			Subsystem: "transport",
			Name:      "session_resets_total",
			Help:      "Full session resets forced by protocol-error bursts.",
		},
	)
	laneDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenectl",
			Subsystem: "lanes",
			Name:      "drops_total",
			Help:      "Envelopes evicted from outbound lanes.",
		},
		[]string{"lane"},
	)
	laneDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scenectl",
			Subsystem: "lanes",
			Name:      "depth",
			Help:      "Queued envelopes per outbound lane.",
		},
		[]string{"lane"},
	)
	modeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenectl",
			Subsystem: "engine",
			Name:      "mode_transitions_total",
			Help:      "Decision engine mode transitions.",
		},
		[]string{"from", "to", "trigger"},
	)
	sceneDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenectl",
			Subsystem: "engine",
			Name:      "scene_decisions_total",
			Help:      "Scene-intent decisions by winning rule.",
		},
		[]string{"rule"},
	)
	guardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenectl",
			Subsystem: "engine",
			Name:      "guard_rejections_total",
			Help:      "Switch commands vetoed by a guard.",
		},
		[]string{"guard"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenectl",
			Subsystem: "ops",
			Name:      "http_requests_total",
			Help:      "Ops surface requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scenectl",
			Subsystem: "ops",
			Name:      "http_request_duration_seconds",
			Help:      "Ops surface request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			reconnectAttempts, protocolErrors, sessionResets,
			laneDrops, laneDepth,
			modeTransitions, sceneDecisions, guardRejections,
			httpRequests, httpDuration,
		)
	})
}

func RecordReconnect(outcome string) {
	RegisterMetrics()
	reconnectAttempts.WithLabelValues(outcome).Inc()
}

func RecordProtocolError(code string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(code).Inc()
}

func RecordSessionReset() {
	RegisterMetrics()
	sessionResets.Inc()
}

func RecordLaneDrop(lane string) {
	RegisterMetrics()
	laneDrops.WithLabelValues(lane).Inc()
}

func RecordLaneDepth(lane string, depth int) {
	RegisterMetrics()
	laneDepth.WithLabelValues(lane).Set(float64(depth))
}

func RecordModeTransition(from, to, trigger string) {
	RegisterMetrics()
	modeTransitions.WithLabelValues(from, to, trigger).Inc()
}

func RecordSceneDecision(rule string) {
	RegisterMetrics()
	sceneDecisions.WithLabelValues(rule).Inc()
}

func RecordGuardRejection(guard string) {
	RegisterMetrics()
	guardRejections.WithLabelValues(guard).Inc()
}

func RecordHTTPRequest(method, path string, status int, elapsed time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
