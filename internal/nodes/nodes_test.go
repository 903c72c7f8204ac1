package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

// fakeToolCaller answers Call/CallMany from a per-"server/tool" response
// table, recording every call it receives for assertions.
type fakeToolCaller struct {
	mu        sync.Mutex
	responses map[string]*wfstate.ToolResponse
	errs      map[string]error
	calls     []string
	declared  []string
}

func newFakeToolCaller() *fakeToolCaller {
	return &fakeToolCaller{responses: map[string]*wfstate.ToolResponse{}, errs: map[string]error{}}
}

func (f *fakeToolCaller) key(server, tool string) string { return server + "/" + tool }

func (f *fakeToolCaller) set(server, tool string, result any) {
	raw, _ := json.Marshal(result)
	f.responses[f.key(server, tool)] = &wfstate.ToolResponse{OK: true, Result: raw}
}

func (f *fakeToolCaller) fail(server, tool string, err error) {
	f.errs[f.key(server, tool)] = err
}

func (f *fakeToolCaller) Call(ctx context.Context, server, tool string, args json.RawMessage, timeout time.Duration) (*wfstate.ToolResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, f.key(server, tool))
	f.mu.Unlock()

	if err, ok := f.errs[f.key(server, tool)]; ok {
		return nil, err
	}
	if resp, ok := f.responses[f.key(server, tool)]; ok {
		return resp, nil
	}
	return &wfstate.ToolResponse{OK: true, Result: json.RawMessage(`{}`)}, nil
}

func (f *fakeToolCaller) DeclaredTools() []string { return f.declared }

func (f *fakeToolCaller) CallMany(ctx context.Context, calls []wfstate.ToolCall) []*wfstate.ToolResponse {
	out := make([]*wfstate.ToolResponse, len(calls))
	for i, c := range calls {
		resp, err := f.Call(ctx, c.Server, c.Tool, c.Arguments, 0)
		if err != nil {
			resp = &wfstate.ToolResponse{OK: false, Err: err.Error()}
		}
		out[i] = resp
	}
	return out
}

// fakeProvider returns a fixed LLMResponse/structured payload, or an error.
// It records the last AgentInvocation it was handed so tests can assert on
// what a node put into the prompt.
type fakeProvider struct {
	content    string
	structured json.RawMessage
	err        error

	lastInvocation *wfstate.AgentInvocation
}

func (f *fakeProvider) Invoke(ctx context.Context, inv *wfstate.AgentInvocation) (*wfstate.LLMResponse, error) {
	f.lastInvocation = inv
	if f.err != nil {
		return nil, f.err
	}
	return &wfstate.LLMResponse{Content: f.content}, nil
}

func (f *fakeProvider) InvokeStructured(ctx context.Context, inv *wfstate.AgentInvocation, schema json.RawMessage) (json.RawMessage, error) {
	f.lastInvocation = inv
	if f.err != nil {
		return nil, f.err
	}
	return f.structured, nil
}

// fakeMemory is a minimal in-process stand-in for internal/memstore.Store,
// keyed exactly like the real backends: (sessionID, key) -> value.
type fakeMemory struct {
	mu    sync.Mutex
	slots map[string][]byte
}

func newFakeMemory() *fakeMemory { return &fakeMemory{slots: map[string][]byte{}} }

func (f *fakeMemory) Remember(ctx context.Context, sessionID, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[sessionID+"\x00"+key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeMemory) Recall(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.slots[sessionID+"\x00"+key]
	return v, ok, nil
}

// fakeApprover answers every RequestApproval call with a fixed Decision,
// recording the action types it was asked about.
type fakeApprover struct {
	decision wfstate.Decision
	err      error

	mu    sync.Mutex
	asked []string
}

func (f *fakeApprover) RequestApproval(ctx context.Context, actionType, payload string, timeout time.Duration) (wfstate.Decision, error) {
	f.mu.Lock()
	f.asked = append(f.asked, actionType+":"+payload)
	f.mu.Unlock()
	return f.decision, f.err
}

func testDeps(tools *fakeToolCaller, provider *fakeProvider) *workflow.Deps {
	return &workflow.Deps{
		Tools:    tools,
		Provider: provider,
		Memory:   newFakeMemory(),
		Events:   eventstream.New("test-session", discardSubscriber),
	}
}

var errBoom = errors.New("boom")

func discardSubscriber(eventstream.Event) {}
