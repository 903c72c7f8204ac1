package nodes

import (
	"context"
	"testing"

	"github.com/forgeflow/conductor/internal/wfstate"
)

func TestResponder_NoAccumulatedResultsShortCircuits(t *testing.T) {
	deps := testDeps(newFakeToolCaller(), &fakeProvider{content: "should not be called"})
	state := wfstate.New("s1", "/workspace", "do nothing useful")

	update, err := Responder(context.Background(), state, deps)
	if err != nil {
		t.Fatalf("Responder returned error: %v", err)
	}
	if update.UserResponse == nil || *update.UserResponse == "" {
		t.Fatal("expected a non-empty user response")
	}
	if update.CanEndWorkflow == nil || !*update.CanEndWorkflow {
		t.Error("responder must always end the workflow")
	}
}

func TestResponder_SynthesizesFromAccumulatedResults(t *testing.T) {
	deps := testDeps(newFakeToolCaller(), &fakeProvider{content: "here is what happened"})
	state := wfstate.New("s1", "/workspace", "build a thing")
	state.AccumulatedResults = []wfstate.AccumulatedResult{{Agent: wfstate.AgentCodesmith, Summary: "wrote 2 files"}}

	update, err := Responder(context.Background(), state, deps)
	if err != nil {
		t.Fatalf("Responder returned error: %v", err)
	}
	if *update.UserResponse != "here is what happened" {
		t.Errorf("user response = %q", *update.UserResponse)
	}
}

func TestResponder_LLMFailureFallsBackToMechanicalSummary(t *testing.T) {
	deps := testDeps(newFakeToolCaller(), &fakeProvider{err: errBoom})
	state := wfstate.New("s1", "/workspace", "build a thing")
	state.AccumulatedResults = []wfstate.AccumulatedResult{{Agent: wfstate.AgentCodesmith, Summary: "wrote 2 files"}}

	update, err := Responder(context.Background(), state, deps)
	if err != nil {
		t.Fatalf("Responder returned error: %v", err)
	}
	if update.UserResponse == nil || *update.UserResponse == "" {
		t.Fatal("expected a non-empty fallback response")
	}
	if len(update.Errors) != 1 {
		t.Fatalf("expected the LLM failure to be recorded, got %+v", update.Errors)
	}
	if update.CanEndWorkflow == nil || !*update.CanEndWorkflow {
		t.Error("responder must end the workflow even on fallback")
	}
}
