package policy

import (
	"context"
	"encoding/json"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// invoker is the subset of internal/workflow.Provider this package depends
// on, declared locally so policy has no import edge back onto workflow.
type invoker interface {
	Invoke(ctx context.Context, inv *wfstate.AgentInvocation) (*wfstate.LLMResponse, error)
	InvokeStructured(ctx context.Context, inv *wfstate.AgentInvocation, schema json.RawMessage) (json.RawMessage, error)
}

// GatedProvider wraps an Agent Adapter and filters AgentInvocation.ToolsAllowed
// through a Resolver before every call, so the capability-scoped defaults
// apply regardless of what a node or the supervisor populated. Wire it in
// place of the bare adapter when building internal/workflow.Deps.
type GatedProvider struct {
	Inner    invoker
	Resolver *Resolver
}

// NewGatedProvider wraps inner with resolver's capability-scoped filtering.
func NewGatedProvider(inner invoker, resolver *Resolver) *GatedProvider {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &GatedProvider{Inner: inner, Resolver: resolver}
}

func (g *GatedProvider) Invoke(ctx context.Context, inv *wfstate.AgentInvocation) (*wfstate.LLMResponse, error) {
	return g.Inner.Invoke(ctx, g.filtered(inv))
}

func (g *GatedProvider) InvokeStructured(ctx context.Context, inv *wfstate.AgentInvocation, schema json.RawMessage) (json.RawMessage, error) {
	return g.Inner.InvokeStructured(ctx, g.filtered(inv), schema)
}

// filtered returns a copy of inv with ToolsAllowed narrowed to what the
// agent's policy permits, leaving the caller's inv untouched.
func (g *GatedProvider) filtered(inv *wfstate.AgentInvocation) *wfstate.AgentInvocation {
	if inv == nil {
		return nil
	}
	narrowed := *inv
	narrowed.ToolsAllowed = g.Resolver.FilterForAgent(inv.Agent, inv.ToolsAllowed)
	return &narrowed
}
