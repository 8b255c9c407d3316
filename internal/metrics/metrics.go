package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TaskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harboragent_task_transitions_total",
			Help: "Total number of task status transitions by target state.",
		},
		[]string{"state"},
	)

	AgentInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harboragent_agent_invocations_total",
			Help: "Total number of work capability invocations by mode and outcome.",
		},
		[]string{"mode", "outcome"}, // mode: unary|stream, outcome: completed|input_required|failed
	)

	AgentLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harboragent_agent_latency_seconds",
			Help:    "Time spent in the work capability per invocation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	PushVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harboragent_push_verifications_total",
			Help: "Total number of webhook ownership challenges by result.",
		},
		[]string{"result"}, // verified|rejected
	)

	PushDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harboragent_push_deliveries_total",
			Help: "Total number of webhook push attempts by outcome.",
		},
		[]string{"outcome"}, // delivered|http_4xx|http_5xx|timeout|network|queued|other
	)

	PushDeliveryLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harboragent_push_delivery_latency_seconds",
			Help:    "Webhook push round-trip latency.",
			Buckets: prometheus.DefBuckets,
		},
	)

	PushDLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harboragent_push_dlq_total",
			Help: "Total number of failed pushes published to the dead letter topic.",
		},
		[]string{"reason"},
	)

	ActiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harboragent_active_subscribers",
			Help: "Number of live event subscriptions across all tasks.",
		},
	)

	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harboragent_active_runs",
			Help: "Number of background agent runs in flight.",
		},
	)

	PushQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harboragent_push_queue_depth",
			Help: "Queued pushes waiting in an NSQ channel.",
		},
		[]string{"topic", "channel"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harboragent_requests_total",
			Help: "Total number of protocol requests by transport, method and result code.",
		},
		[]string{"transport", "method", "code"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		TaskTransitionsTotal,
		AgentInvocationsTotal,
		AgentLatencySeconds,
		PushVerificationsTotal,
		PushDeliveriesTotal,
		PushDeliveryLatencySeconds,
		PushDLQTotal,
		ActiveSubscribers,
		ActiveRuns,
		PushQueueDepth,
		RequestsTotal,
	)
}

// RecordTransition counts a task entering state
func RecordTransition(state string) {
	TaskTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordAgentInvocation counts one capability call and observes its latency
func RecordAgentInvocation(mode, outcome string, d time.Duration) {
	AgentInvocationsTotal.WithLabelValues(mode, outcome).Inc()
	AgentLatencySeconds.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordVerification counts an ownership challenge result
func RecordVerification(verified bool) {
	result := "rejected"
	if verified {
		result = "verified"
	}
	PushVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordPushDelivery counts a push attempt. Latency is observed only for attempts that hit the network.
func RecordPushDelivery(outcome string, d time.Duration) {
	PushDeliveriesTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		PushDeliveryLatencySeconds.Observe(d.Seconds())
	}
}

// RecordDLQ counts a dead-lettered push
func RecordDLQ(reason string) {
	PushDLQTotal.WithLabelValues(reason).Inc()
}

// RecordRequest counts a served protocol request
func RecordRequest(transport, method, code string) {
	RequestsTotal.WithLabelValues(transport, method, code).Inc()
}

// UpdatePushQueueDepth sets the backlog of one NSQ channel
func UpdatePushQueueDepth(topic, channel string, depth float64) {
	PushQueueDepth.WithLabelValues(topic, channel).Set(depth)
}
