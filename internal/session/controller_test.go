package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

// noopNode stands in for all five fixed agents, which Graph.New requires
// to be registered; it returns an empty update.
func noopNode(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	return &wfstate.Update{}, nil
}

func allNoopNodes() map[wfstate.Agent]workflow.Node {
	return map[wfstate.Agent]workflow.Node{
		wfstate.AgentResearch:  noopNode,
		wfstate.AgentArchitect: noopNode,
		wfstate.AgentCodesmith: noopNode,
		wfstate.AgentReviewFix: noopNode,
		wfstate.AgentResponder: noopNode,
	}
}

// endImmediately is a supervisor that ends the workflow on its first call.
func endImmediately(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*workflow.Command, error) {
	return &workflow.Command{Goto: []wfstate.Agent{workflow.END}}, nil
}

type eventCollector struct {
	mu     sync.Mutex
	events []eventstream.Event
}

func (c *eventCollector) subscriber(e eventstream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) types() []eventstream.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]eventstream.Type, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func newTestController(supervisor workflow.SupervisorFunc) *Controller {
	return New(Config{
		Nodes:          allNoopNodes(),
		Supervisor:     supervisor,
		RecursionLimit: 5,
		ApprovalSecret: "test-secret",
	})
}

func waitForEventCount(t *testing.T, c *eventCollector, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(c.types()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d: %v", n, len(c.types()), c.types())
}

func TestController_HappyPath(t *testing.T) {
	ctrl := newTestController(endImmediately)
	collector := &eventCollector{}

	bound, err := ctrl.Connect("", collector.subscriber).Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer bound.Close()

	result := bound.Query(context.Background(), "add a docstring")
	if result.Status != workflow.StatusOK {
		t.Fatalf("got status %q, want %q", result.Status, workflow.StatusOK)
	}

	waitForEventCount(t, collector, 3)
	types := collector.types()
	if types[0] != eventstream.TypeWelcome {
		t.Errorf("first event = %q, want welcome", types[0])
	}
	if types[1] != eventstream.TypeSessionInitialized {
		t.Errorf("second event = %q, want session_initialized", types[1])
	}
	if types[len(types)-1] != eventstream.TypeWorkflowComplete {
		t.Errorf("last event = %q, want workflow_complete", types[len(types)-1])
	}
}

func TestController_InitRejectsMissingWorkspace(t *testing.T) {
	ctrl := newTestController(endImmediately)
	_, err := ctrl.Connect("", func(eventstream.Event) {}).Init("/no/such/workspace")
	if err == nil {
		t.Fatal("expected Init to fail for a missing workspace path")
	}
}

func TestController_SecondBindToSameWorkspaceRejected(t *testing.T) {
	ctrl := newTestController(endImmediately)
	dir := t.TempDir()

	first, err := ctrl.Connect("session-a", func(eventstream.Event) {}).Init(dir)
	if err != nil {
		t.Fatalf("first Init: %v", err)
	}
	defer first.Close()

	_, err = ctrl.Connect("session-b", func(eventstream.Event) {}).Init(dir)
	if err == nil {
		t.Fatal("expected a second session binding the same workspace to fail")
	}
}

func TestController_CloseReleasesWorkspaceForRebind(t *testing.T) {
	ctrl := newTestController(endImmediately)
	dir := t.TempDir()

	first, err := ctrl.Connect("session-a", func(eventstream.Event) {}).Init(dir)
	if err != nil {
		t.Fatalf("first Init: %v", err)
	}
	first.Close()

	if _, err := ctrl.Connect("session-b", func(eventstream.Event) {}).Init(dir); err != nil {
		t.Errorf("expected rebind after Close to succeed, got %v", err)
	}
}

// blockingSupervisor signals started, then waits for either a release signal
// or context cancellation before returning a normal continue command —
// mirroring a node mid-await when a cancel arrives.
func blockingSupervisor(started, release chan struct{}) workflow.SupervisorFunc {
	first := true
	return func(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*workflow.Command, error) {
		if !first {
			return &workflow.Command{Goto: []wfstate.Agent{workflow.END}}, nil
		}
		first = false
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &workflow.Command{Goto: []wfstate.Agent{wfstate.AgentResponder}}, nil
	}
}

func TestBound_CancelStopsInFlightRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ctrl := newTestController(blockingSupervisor(started, release))

	bound, err := ctrl.Connect("", func(eventstream.Event) {}).Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer bound.Close()

	resultCh := make(chan *workflow.Result, 1)
	go func() {
		resultCh <- bound.Query(context.Background(), "do something slow")
	}()

	<-started
	if ok := bound.Cancel(); !ok {
		t.Fatal("expected Cancel to find an active run")
	}
	close(release)

	select {
	case result := <-resultCh:
		if result.Status != workflow.StatusCancelled {
			t.Errorf("got status %q, want %q", result.Status, workflow.StatusCancelled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the cancelled run to return")
	}
}

func TestBound_CancelWithNoActiveRunReturnsFalse(t *testing.T) {
	ctrl := newTestController(endImmediately)
	bound, err := ctrl.Connect("", func(eventstream.Event) {}).Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer bound.Close()

	if bound.Cancel() {
		t.Error("expected Cancel to return false when no run is active")
	}
}

func TestBound_ApprovalRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var correlationID string
	subscriber := func(e eventstream.Event) {
		if e.Type == eventstream.TypeApprovalRequest {
			mu.Lock()
			correlationID = e.ApprovalRequest.CorrelationID
			mu.Unlock()
		}
	}

	ctrl := newTestController(endImmediately)
	bound, err := ctrl.Connect("", subscriber).Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer bound.Close()

	resultCh := make(chan Decision, 1)
	go func() {
		d, _ := bound.RequestApproval(context.Background(), "write_file", "payload", time.Second)
		resultCh <- d
	}()

	waitForCorrelationID(t, &mu, &correlationID)
	mu.Lock()
	id := correlationID
	mu.Unlock()
	if err := bound.ResolveApproval(id, Decision{Approved: true, Feedback: "ok"}); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}

	select {
	case d := <-resultCh:
		if !d.Approved {
			t.Errorf("got %+v, want Approved=true", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval decision")
	}
}

func waitForCorrelationID(t *testing.T, mu *sync.Mutex, id *string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := *id
		mu.Unlock()
		if got != "" {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for an approval_request correlation id")
}
