package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the custom Prometheus metrics for the dialogue engine. The
// gateway's HTTP metrics come from the fiber middleware; these cover the
// worker side.
type Metrics struct {
	TasksProcessed *prometheus.CounterVec
	TaskLatency    prometheus.Histogram

	OracleCalls  *prometheus.CounterVec
	OracleTokens prometheus.Counter

	OutboundMessages prometheus.Counter
	Rejections       *prometheus.CounterVec
}

var globalMetrics *Metrics

// Init registers the engine metrics. Call once at startup.
func Init() *Metrics {
	metrics := &Metrics{
		TasksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hirepilot_tasks_processed_total",
			Help: "Engine task invocations by trigger and result",
		}, []string{"trigger", "result"}), // result: "ok", "dropped", "error"

		TaskLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hirepilot_task_duration_seconds",
			Help:    "End-to-end engine task latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, // oracle retries can take a while
		}),

		OracleCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hirepilot_oracle_calls_total",
			Help: "Oracle decisions by result",
		}, []string{"result"}), // "success" or the failure kind

		OracleTokens: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hirepilot_oracle_tokens_total",
			Help: "Total prompt and completion tokens spent on the oracle",
		}),

		OutboundMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hirepilot_outbound_messages_total",
			Help: "Messages sent to candidates",
		}),

		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hirepilot_rejections_total",
			Help: "Conversations closed without a booking, by side",
		}, []string{"side"}), // "bot" or "candidate"
	}

	globalMetrics = metrics
	return metrics
}

// Get returns the global metrics instance, nil before Init.
func Get() *Metrics {
	return globalMetrics
}

// RecordTask records one engine invocation.
func (m *Metrics) RecordTask(trigger, result string, seconds float64) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(trigger, result).Inc()
	m.TaskLatency.Observe(seconds)
}

// RecordOracle records one oracle decision outcome.
func (m *Metrics) RecordOracle(result string, tokens int64) {
	if m == nil {
		return
	}
	m.OracleCalls.WithLabelValues(result).Inc()
	if tokens > 0 {
		m.OracleTokens.Add(float64(tokens))
	}
}

// RecordOutbound counts a message sent to a candidate.
func (m *Metrics) RecordOutbound() {
	if m == nil {
		return
	}
	m.OutboundMessages.Inc()
}

// RecordRejection counts a closed-out conversation.
func (m *Metrics) RecordRejection(side string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(side).Inc()
}
