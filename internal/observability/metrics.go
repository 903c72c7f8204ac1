package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the Prometheus series the engine exposes at its
// /metrics endpoint. Grounded on the teacher's internal/observability/metrics.go
// (a single struct of promauto-registered Vecs plus thin recording
// methods); relabeled from channel/webhook/HTTP concerns to workflow
// run, node dispatch, tool call, and approval concerns.
type Metrics struct {
	// NodeDispatchCounter counts node dispatches by agent and outcome.
	// Labels: agent, status (success|error|timeout)
	NodeDispatchCounter *prometheus.CounterVec

	// NodeDispatchDuration measures node wall-clock time in seconds.
	// Labels: agent
	NodeDispatchDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolServerState tracks the health-state machine as a gauge, one
	// per possible state so Grafana can stack them.
	// Labels: server, state (starting|ready|crashed|stopped)
	ToolServerState *prometheus.GaugeVec

	// ErrorCounter tracks errors by component and taxonomy kind.
	// Labels: component (supervisor|toolbus|adapter|session), error_kind
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking currently bound sessions.
	ActiveSessions prometheus.Gauge

	// ActiveRuns is a gauge tracking in-flight workflow runs.
	ActiveRuns prometheus.Gauge

	// WorkflowRunDuration measures a full Query-to-responder run in seconds.
	// Labels: outcome (completed|error|recursion_limit)
	WorkflowRunDuration *prometheus.HistogramVec

	// WorkflowRunCounter counts completed runs by outcome.
	// Labels: outcome
	WorkflowRunCounter *prometheus.CounterVec

	// RecursionLimitHits counts runs that hit the recursion limit.
	RecursionLimitHits prometheus.Counter

	// ApprovalDecisionCounter counts HITL approval resolutions.
	// Labels: decision (approved|rejected|timeout)
	ApprovalDecisionCounter *prometheus.CounterVec

	// ApprovalWaitDuration measures time from request to resolution.
	ApprovalWaitDuration prometheus.Histogram

	// CheckpointGCCounter counts checkpoint GC sweeps by outcome.
	// Labels: status (success|error)
	CheckpointGCCounter *prometheus.CounterVec

	// CheckpointGCRemoved counts checkpoints removed by GC sweeps.
	CheckpointGCRemoved prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics against reg.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry; pass prometheus.DefaultRegisterer in
// cmd/conductor.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NodeDispatchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_node_dispatch_total",
				Help: "Total number of workflow node dispatches by agent and status",
			},
			[]string{"agent", "status"},
		),
		NodeDispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_node_dispatch_duration_seconds",
				Help:    "Duration of workflow node dispatches in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"agent"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ToolServerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conductor_tool_server_state",
				Help: "Tool server health state (1 if currently in that state, else 0)",
			},
			[]string{"server", "state"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_sessions",
				Help: "Current number of bound sessions",
			},
		),
		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_runs",
				Help: "Current number of in-flight workflow runs",
			},
		),
		WorkflowRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_workflow_run_duration_seconds",
				Help:    "Duration of a full workflow run in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"outcome"},
		),
		WorkflowRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_workflow_runs_total",
				Help: "Total number of completed workflow runs by outcome",
			},
			[]string{"outcome"},
		),
		RecursionLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_recursion_limit_hits_total",
				Help: "Total number of runs terminated by the recursion limit",
			},
		),
		ApprovalDecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_approval_decisions_total",
				Help: "Total number of HITL approval resolutions by decision",
			},
			[]string{"decision"},
		),
		ApprovalWaitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conductor_approval_wait_duration_seconds",
				Help:    "Time from approval request to resolution in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		CheckpointGCCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_checkpoint_gc_sweeps_total",
				Help: "Total number of checkpoint GC sweeps by outcome",
			},
			[]string{"status"},
		),
		CheckpointGCRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_checkpoint_gc_removed_total",
				Help: "Total number of checkpoints removed by GC sweeps",
			},
		),
	}
}

// RecordNodeDispatch records a single node dispatch's outcome and duration.
func (m *Metrics) RecordNodeDispatch(agent, status string, durationSeconds float64) {
	m.NodeDispatchCounter.WithLabelValues(agent, status).Inc()
	m.NodeDispatchDuration.WithLabelValues(agent).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// SetToolServerState zeroes every other known state for server and sets
// state to 1, so a Grafana stacked graph shows exactly one active state.
func (m *Metrics) SetToolServerState(server, state string) {
	for _, s := range []string{"starting", "ready", "crashed", "stopped"} {
		if s == state {
			m.ToolServerState.WithLabelValues(server, s).Set(1)
		} else {
			m.ToolServerState.WithLabelValues(server, s).Set(0)
		}
	}
}

// RecordError increments the error counter for a given component and kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// SessionBound increments the active sessions gauge.
func (m *Metrics) SessionBound() { m.ActiveSessions.Inc() }

// SessionClosed decrements the active sessions gauge.
func (m *Metrics) SessionClosed() { m.ActiveSessions.Dec() }

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() { m.ActiveRuns.Inc() }

// RunFinished decrements the active runs gauge and records the run's
// outcome and total duration.
func (m *Metrics) RunFinished(outcome string, durationSeconds float64) {
	m.ActiveRuns.Dec()
	m.WorkflowRunCounter.WithLabelValues(outcome).Inc()
	m.WorkflowRunDuration.WithLabelValues(outcome).Observe(durationSeconds)
	if outcome == "recursion_limit" {
		m.RecursionLimitHits.Inc()
	}
}

// RecordApprovalDecision records an HITL approval resolution and the time
// spent waiting for it.
func (m *Metrics) RecordApprovalDecision(decision string, waitSeconds float64) {
	m.ApprovalDecisionCounter.WithLabelValues(decision).Inc()
	m.ApprovalWaitDuration.Observe(waitSeconds)
}

// RecordCheckpointGC records a checkpoint GC sweep's outcome and how many
// checkpoints it removed.
func (m *Metrics) RecordCheckpointGC(status string, removed int) {
	m.CheckpointGCCounter.WithLabelValues(status).Inc()
	if removed > 0 {
		m.CheckpointGCRemoved.Add(float64(removed))
	}
}
