package supervisor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

type fakeProvider struct {
	response json.RawMessage
	err      error
}

func (f *fakeProvider) Invoke(context.Context, *wfstate.AgentInvocation) (*wfstate.LLMResponse, error) {
	return nil, nil
}

func (f *fakeProvider) InvokeStructured(context.Context, *wfstate.AgentInvocation, json.RawMessage) (json.RawMessage, error) {
	return f.response, f.err
}

func testDeps(resp json.RawMessage, err error) *workflow.Deps {
	return &workflow.Deps{
		Provider: &fakeProvider{response: resp, err: err},
		Events:   eventstream.New("s1", func(eventstream.Event) {}),
	}
}

func decisionJSON(t *testing.T, d Decision) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal decision: %v", err)
	}
	return b
}

func TestNew_ContinueRoutesToNamedAgent(t *testing.T) {
	resp := decisionJSON(t, Decision{Action: ActionContinue, NextAgent: "architect", Instructions: "draft a design", Reasoning: "need architecture first"})
	sup := New(Config{})
	cmd, err := sup(context.Background(), wfstate.New("s1", "/tmp/ws", "build a thing"), testDeps(resp, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmd.Goto) != 1 || cmd.Goto[0] != wfstate.AgentArchitect {
		t.Fatalf("goto = %v, want [architect]", cmd.Goto)
	}
	if cmd.Update == nil || cmd.Update.Instructions == nil || *cmd.Update.Instructions != "draft a design" {
		t.Errorf("instructions not carried into update")
	}
}

func TestNew_FinishBeforeAnyWorkIsDowngraded(t *testing.T) {
	resp := decisionJSON(t, Decision{Action: ActionFinish, Instructions: "", Reasoning: "looks done"})
	sup := New(Config{})
	state := wfstate.New("s1", "/tmp/ws", "anything")
	cmd, err := sup(context.Background(), state, testDeps(resp, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmd.Goto) != 1 || cmd.Goto[0] != wfstate.AgentResponder {
		t.Fatalf("expected downgrade to responder, got %v", cmd.Goto)
	}
}

func TestNew_FinishAfterWorkIsAccepted(t *testing.T) {
	resp := decisionJSON(t, Decision{Action: ActionFinish, Instructions: "", Reasoning: "all done"})
	sup := New(Config{})
	state := wfstate.New("s1", "/tmp/ws", "anything")
	state.ExecutedAgents[wfstate.AgentResponder] = 1
	cmd, err := sup(context.Background(), state, testDeps(resp, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmd.Goto) != 1 || cmd.Goto[0] != workflow.END {
		t.Fatalf("expected END, got %v", cmd.Goto)
	}
}

func TestNew_ParallelRejectsSameSlotConflict(t *testing.T) {
	resp := decisionJSON(t, Decision{
		Action:       ActionParallel,
		NextAgents:   []string{"architect", "architect"},
		Instructions: "x",
		Reasoning:    "y",
	})
	sup := New(Config{})
	_, err := sup(context.Background(), wfstate.New("s1", "/tmp/ws", "anything"), testDeps(resp, nil))
	if err == nil {
		t.Fatal("expected an error for a duplicate parallel target")
	}
}

func TestNew_ParallelAcceptsDisjointSlots(t *testing.T) {
	resp := decisionJSON(t, Decision{
		Action:       ActionParallel,
		NextAgents:   []string{"research", "architect"},
		Instructions: "x",
		Reasoning:    "y",
	})
	sup := New(Config{})
	cmd, err := sup(context.Background(), wfstate.New("s1", "/tmp/ws", "anything"), testDeps(resp, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmd.Goto) != 2 {
		t.Fatalf("goto = %v, want 2 targets", cmd.Goto)
	}
}

func TestNew_RejectsUnknownTarget(t *testing.T) {
	resp := decisionJSON(t, Decision{Action: ActionContinue, NextAgent: "deployer", Instructions: "x", Reasoning: "y"})
	sup := New(Config{})
	_, err := sup(context.Background(), wfstate.New("s1", "/tmp/ws", "anything"), testDeps(resp, nil))
	if err == nil {
		t.Fatal("expected an error for an unknown goto target")
	}
}

func TestValidateSchema_RejectsAdditionalProperties(t *testing.T) {
	raw := json.RawMessage(`{"action":"CONTINUE","next_agent":"architect","instructions":"x","reasoning":"y","extra":"nope"}`)
	if err := ValidateSchema(raw); err == nil {
		t.Fatal("expected schema validation to reject an unknown field")
	}
}

func TestValidateSchema_AcceptsWellFormedDecision(t *testing.T) {
	raw := decisionJSON(t, Decision{Action: ActionContinue, NextAgent: "architect", Instructions: "x", Reasoning: "y"})
	if err := ValidateSchema(raw); err != nil {
		t.Errorf("expected well-formed decision to validate, got: %v", err)
	}
}
