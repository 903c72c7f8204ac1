package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersAllSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if count := testutil.CollectAndCount(m.NodeDispatchCounter); count != 0 {
		t.Errorf("got %d series before any recording, want 0", count)
	}
}

func TestRecordNodeDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordNodeDispatch("codesmith", "success", 1.5)
	m.RecordNodeDispatch("codesmith", "success", 2.5)
	m.RecordNodeDispatch("research", "error", 0.2)

	if count := testutil.CollectAndCount(m.NodeDispatchCounter); count != 2 {
		t.Errorf("got %d label combinations, want 2", count)
	}
}

func TestRecordLLMRequestTracksTokens(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordLLMRequest("anthropic", "claude-sonnet", "success", 1.2, 100, 40)

	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet", "prompt")); got != 100 {
		t.Errorf("got prompt tokens %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet", "completion")); got != 40 {
		t.Errorf("got completion tokens %v, want 40", got)
	}
}

func TestRecordLLMRequestSkipsZeroTokenCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordLLMRequest("openai", "gpt-4", "error", 0.1, 0, 0)

	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 0 {
		t.Errorf("got %d token series after a zero-token request, want 0", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordToolExecution("write_file", "success", 0.05)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("write_file", "success")); got != 1 {
		t.Errorf("got tool execution count %v, want 1", got)
	}
}

func TestSetToolServerStateIsExclusive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetToolServerState("search", "starting")
	m.SetToolServerState("search", "ready")

	if got := testutil.ToFloat64(m.ToolServerState.WithLabelValues("search", "ready")); got != 1 {
		t.Errorf("got ready state %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolServerState.WithLabelValues("search", "starting")); got != 0 {
		t.Errorf("got starting state %v, want 0 after transitioning to ready", got)
	}
}

func TestRunFinishedRecordsRecursionLimitHit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunStarted()
	m.RunFinished("recursion_limit", 42.0)

	if got := testutil.ToFloat64(m.RecursionLimitHits); got != 1 {
		t.Errorf("got recursion limit hits %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveRuns); got != 0 {
		t.Errorf("got active runs %v, want 0 after RunFinished", got)
	}
}

func TestRecordApprovalDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordApprovalDecision("approved", 12.5)
	m.RecordApprovalDecision("rejected", 3.0)

	if got := testutil.ToFloat64(m.ApprovalDecisionCounter.WithLabelValues("approved")); got != 1 {
		t.Errorf("got approved count %v, want 1", got)
	}
}

func TestRecordCheckpointGC(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCheckpointGC("success", 3)
	m.RecordCheckpointGC("success", 0)

	if got := testutil.ToFloat64(m.CheckpointGCRemoved); got != 3 {
		t.Errorf("got removed count %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.CheckpointGCCounter.WithLabelValues("success")); got != 2 {
		t.Errorf("got sweep count %v, want 2", got)
	}
}
