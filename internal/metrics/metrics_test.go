package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	return NewPrometheusRecorder()
}

func TestObserveTaskTransitionIncrementsCounter(t *testing.T) {
	r := newTestRecorder()
	r.ObserveTaskTransition("pending", "decomposing", "o/r")
	require.Equal(t, float64(1), testutil.ToFloat64(r.taskTransitions.WithLabelValues("pending", "decomposing", "o/r")))
}

func TestObserveAgentRunRecordsTokensAndCost(t *testing.T) {
	r := newTestRecorder()
	r.ObserveAgentRun("subtask", "claude-3", 100, 50, 0.25, true, 2*time.Second)

	require.Equal(t, float64(100), testutil.ToFloat64(r.agentTokensTotal.WithLabelValues("subtask", "claude-3", "input")))
	require.Equal(t, float64(50), testutil.ToFloat64(r.agentTokensTotal.WithLabelValues("subtask", "claude-3", "output")))
	require.Equal(t, float64(0.25), testutil.ToFloat64(r.agentCostTotal.WithLabelValues("subtask", "claude-3")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.agentRunsTotal.WithLabelValues("subtask", "claude-3", "success")))
}

func TestObserveAgentRunFailureUsesErrorStatus(t *testing.T) {
	r := newTestRecorder()
	r.ObserveAgentRun("task", "claude-3", 10, 0, 0, false, time.Second)
	require.Equal(t, float64(1), testutil.ToFloat64(r.agentRunsTotal.WithLabelValues("task", "claude-3", "error")))
}

func TestSetQueueDepth(t *testing.T) {
	r := newTestRecorder()
	r.SetQueueDepth("tasks", 3)
	require.Equal(t, float64(3), testutil.ToFloat64(r.queueDepth.WithLabelValues("tasks")))
}

func TestNoopRecorderDoesNotPanic(t *testing.T) {
	var r Recorder = Nop()
	r.ObserveTaskTransition("a", "b", "o/r")
	r.ObserveSubtaskTransition("a", "b")
	r.ObserveAgentRun("t", "m", 1, 1, 1, true, time.Second)
	r.ObserveReviewIteration(true)
	r.SetQueueDepth("q", 1)
	r.ObserveWebhookEvent("pull_request", true)
}
