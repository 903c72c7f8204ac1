package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
)

// ToolCaller is the subset of the tool bus a node needs. It is declared here,
// by the consumer, rather than imported from internal/toolbus, so nodes can
// be tested against a fake without pulling in subprocess plumbing.
type ToolCaller interface {
	Call(ctx context.Context, server, tool string, args json.RawMessage, timeout time.Duration) (*wfstate.ToolResponse, error)
	CallMany(ctx context.Context, calls []wfstate.ToolCall) []*wfstate.ToolResponse

	// DeclaredTools lists the tool server names the bus's manifest
	// declares, in manifest order. The node-dispatch path (internal/nodes) uses it to populate
	// AgentInvocation.ToolsAllowed before an invocation reaches the Agent
	// Adapter, so internal/policy.GatedProvider's capability-scoped
	// narrowing has a real declared set to filter rather than an always-
	// empty one.
	DeclaredTools() []string
}

// Provider is the subset of the agent adapter a node needs to talk to an LLM.
type Provider interface {
	Invoke(ctx context.Context, inv *wfstate.AgentInvocation) (*wfstate.LLMResponse, error)
	InvokeStructured(ctx context.Context, inv *wfstate.AgentInvocation, schema json.RawMessage) (json.RawMessage, error)
}

// MemoryStore is the subset of the persistent memory backend a node needs.
type MemoryStore interface {
	Remember(ctx context.Context, sessionID, key string, value []byte) error
	Recall(ctx context.Context, sessionID, key string) ([]byte, bool, error)
}

// Approver is the subset of the Session Controller's HITL broker a node
// needs to request a human decision mid-run (spec §6.3 approval_request /
// §6.4 approval_response). Optional: a Deps with a nil Approver means no
// node in this process ever asks for approval, and callers must treat that
// as "proceed unconfirmed" rather than block forever.
type Approver interface {
	RequestApproval(ctx context.Context, actionType, payload string, timeout time.Duration) (wfstate.Decision, error)
}

// Deps bundles the ambient collaborators nodes and the supervisor need.
// None of these are serializable, so they are threaded as a side-channel
// argument distinct from WorkflowState rather than stored on it.
type Deps struct {
	Tools    ToolCaller
	Events   *eventstream.Stream
	Provider Provider
	Memory   MemoryStore
	Approver Approver
}
