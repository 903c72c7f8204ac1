package nodes

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/forgeflow/conductor/internal/wfstate"
)

func TestArchitect_FirstPassProducesRevisionOne(t *testing.T) {
	draft := architectDraft{
		Components: []wfstate.ArchitectureComponent{{Name: "api", Responsibility: "http layer"}},
		DataModel:  "one table",
	}
	raw, _ := json.Marshal(draft)
	provider := &fakeProvider{structured: raw}
	deps := testDeps(newFakeToolCaller(), provider)

	state := wfstate.New("s1", "/workspace", "build an API")

	update, err := Architect(context.Background(), state, deps)
	if err != nil {
		t.Fatalf("Architect returned error: %v", err)
	}
	if update.Architecture == nil {
		t.Fatal("expected an architecture to be produced")
	}
	if update.Architecture.Revision != 1 {
		t.Errorf("revision = %d, want 1", update.Architecture.Revision)
	}
	if len(update.AccumulatedResults) != 1 {
		t.Errorf("got %d accumulated results, want 1", len(update.AccumulatedResults))
	}
}

func TestArchitect_RefiningIncrementsRevisionAndNotesSupersession(t *testing.T) {
	draft := architectDraft{Components: []wfstate.ArchitectureComponent{{Name: "api", Responsibility: "http layer v2"}}}
	raw, _ := json.Marshal(draft)
	deps := testDeps(newFakeToolCaller(), &fakeProvider{structured: raw})

	state := wfstate.New("s1", "/workspace", "build an API")
	state.Architecture = &wfstate.Architecture{Components: []wfstate.ArchitectureComponent{{Name: "api", Responsibility: "http layer v1"}}, Revision: 1}

	update, err := Architect(context.Background(), state, deps)
	if err != nil {
		t.Fatalf("Architect returned error: %v", err)
	}
	if update.Architecture.Revision != 2 {
		t.Errorf("revision = %d, want 2", update.Architecture.Revision)
	}
	if len(update.AccumulatedResults) != 2 {
		t.Fatalf("expected a supersession note plus a production note, got %d", len(update.AccumulatedResults))
	}
}

func TestArchitect_EmptyComponentsIsRecordedAsPermanentError(t *testing.T) {
	draft := architectDraft{Components: nil}
	raw, _ := json.Marshal(draft)
	deps := testDeps(newFakeToolCaller(), &fakeProvider{structured: raw})

	state := wfstate.New("s1", "/workspace", "build something")

	update, err := Architect(context.Background(), state, deps)
	if err != nil {
		t.Fatalf("Architect returned error: %v", err)
	}
	if update.Architecture != nil {
		t.Error("no architecture should be produced on an empty-components outcome")
	}
	if len(update.Errors) != 1 || update.Errors[0].Retriable {
		t.Fatalf("expected one non-retriable error, got %+v", update.Errors)
	}
}

func TestArchitect_ProviderFailureIsRecoverable(t *testing.T) {
	deps := testDeps(newFakeToolCaller(), &fakeProvider{err: errBoom})
	state := wfstate.New("s1", "/workspace", "build something")

	update, err := Architect(context.Background(), state, deps)
	if err != nil {
		t.Fatalf("Architect returned error: %v", err)
	}
	if len(update.Errors) != 1 || !update.Errors[0].Retriable {
		t.Fatalf("expected one retriable error, got %+v", update.Errors)
	}
}

func TestArchitect_RecallsResearchFromEarlierRun(t *testing.T) {
	draft := architectDraft{Components: []wfstate.ArchitectureComponent{{Name: "api", Responsibility: "http layer"}}}
	raw, _ := json.Marshal(draft)
	provider := &fakeProvider{structured: raw}
	deps := testDeps(newFakeToolCaller(), provider)

	finding := wfstate.ResearchFinding{Kind: string(kindWebSearch), Query: "rate limiting", Findings: "use token bucket"}
	rememberResearch(context.Background(), deps, wfstate.New("s1", "/workspace", ""), finding)

	state := wfstate.New("s1", "/workspace", "build an API")

	if _, err := Architect(context.Background(), state, deps); err != nil {
		t.Fatalf("Architect returned error: %v", err)
	}
	if provider.lastInvocation == nil || !strings.Contains(provider.lastInvocation.PromptUser, "use token bucket") {
		t.Fatalf("expected recalled research in prompt, got: %q", provider.lastInvocation.PromptUser)
	}
}
