// Package metrics provides Prometheus-based metrics recording for the
// orchestration engine, in the style of the teacher's
// pkg/agent/middleware/metrics: a small Recorder interface backed by a
// promauto-registered implementation, with a no-op fallback for tests and
// for operators who run with metrics disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder defines the metrics conductor emits for tasks, subtasks, agent
// runs, and the durable job queue.
type Recorder interface {
	// ObserveTaskTransition records a Task status change.
	ObserveTaskTransition(from, to, repositoryFullName string)
	// ObserveSubtaskTransition records a Subtask status change.
	ObserveSubtaskTransition(from, to string)
	// ObserveAgentRun records a completed agent invocation.
	ObserveAgentRun(runType, model string, inputTokens, outputTokens int, costUSD float64, success bool, duration time.Duration)
	// ObserveReviewIteration records one pass through the review/fix loop.
	ObserveReviewIteration(passed bool)
	// SetQueueDepth reports the number of pending jobs in a queue.
	SetQueueDepth(queueName string, depth float64)
	// ObserveWebhookEvent records an inbound webhook delivery.
	ObserveWebhookEvent(eventType string, accepted bool)
}

// PrometheusRecorder implements Recorder using promauto-registered
// collectors, following the teacher's PrometheusRecorder shape.
type PrometheusRecorder struct {
	taskTransitions    *prometheus.CounterVec
	subtaskTransitions *prometheus.CounterVec
	agentRunsTotal     *prometheus.CounterVec
	agentTokensTotal   *prometheus.CounterVec
	agentCostTotal     *prometheus.CounterVec
	agentRunDuration   *prometheus.HistogramVec
	reviewIterations   *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	webhookEvents      *prometheus.CounterVec
}

// NewPrometheusRecorder registers and returns a Prometheus-backed Recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		taskTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_task_transitions_total",
				Help: "Total number of Task status transitions by source and destination state",
			},
			[]string{"from", "to", "repository"},
		),
		subtaskTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_subtask_transitions_total",
				Help: "Total number of Subtask status transitions by source and destination state",
			},
			[]string{"from", "to"},
		),
		agentRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_agent_runs_total",
				Help: "Total number of agent runs by type, model, and outcome",
			},
			[]string{"run_type", "model", "status"},
		),
		agentTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_agent_tokens_total",
				Help: "Total tokens consumed by agent runs",
			},
			[]string{"run_type", "model", "direction"},
		),
		agentCostTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_agent_cost_usd_total",
				Help: "Total cost in USD attributed to agent runs",
			},
			[]string{"run_type", "model"},
		),
		agentRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_agent_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"run_type", "model"},
		),
		reviewIterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_review_iterations_total",
				Help: "Total number of review/fix loop iterations by outcome",
			},
			[]string{"outcome"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conductor_queue_depth",
				Help: "Number of pending jobs in a durable queue",
			},
			[]string{"queue"},
		),
		webhookEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_webhook_events_total",
				Help: "Total number of inbound webhook deliveries by event type and outcome",
			},
			[]string{"event_type", "accepted"},
		),
	}
}

func (p *PrometheusRecorder) ObserveTaskTransition(from, to, repositoryFullName string) {
	p.taskTransitions.WithLabelValues(from, to, repositoryFullName).Inc()
}

func (p *PrometheusRecorder) ObserveSubtaskTransition(from, to string) {
	p.subtaskTransitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) ObserveAgentRun(runType, model string, inputTokens, outputTokens int, costUSD float64, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.agentRunsTotal.WithLabelValues(runType, model, status).Inc()
	p.agentTokensTotal.WithLabelValues(runType, model, "input").Add(float64(inputTokens))
	p.agentTokensTotal.WithLabelValues(runType, model, "output").Add(float64(outputTokens))
	p.agentCostTotal.WithLabelValues(runType, model).Add(costUSD)
	p.agentRunDuration.WithLabelValues(runType, model).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveReviewIteration(passed bool) {
	outcome := "fail"
	if passed {
		outcome = "pass"
	}
	p.reviewIterations.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(queueName string, depth float64) {
	p.queueDepth.WithLabelValues(queueName).Set(depth)
}

func (p *PrometheusRecorder) ObserveWebhookEvent(eventType string, accepted bool) {
	p.webhookEvents.WithLabelValues(eventType, boolLabel(accepted)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// NoopRecorder discards all metrics. Used in tests and when metrics
// collection is disabled.
type NoopRecorder struct{}

// Nop returns a Recorder that discards everything it is given.
func Nop() Recorder { return NoopRecorder{} }

func (NoopRecorder) ObserveTaskTransition(from, to, repositoryFullName string) {}
func (NoopRecorder) ObserveSubtaskTransition(from, to string)                  {}
func (NoopRecorder) ObserveAgentRun(runType, model string, inputTokens, outputTokens int, costUSD float64, success bool, duration time.Duration) {
}
func (NoopRecorder) ObserveReviewIteration(passed bool)             {}
func (NoopRecorder) SetQueueDepth(queueName string, depth float64) {}
func (NoopRecorder) ObserveWebhookEvent(eventType string, accepted bool) {}
