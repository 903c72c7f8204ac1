package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/forgeflow/conductor/internal/policy"
	"github.com/forgeflow/conductor/internal/wfstate"
)

type fakeAdapter struct {
	calls []wfstate.Agent
}

func (f *fakeAdapter) Invoke(ctx context.Context, inv *wfstate.AgentInvocation) (*wfstate.LLMResponse, error) {
	f.calls = append(f.calls, inv.Agent)
	return &wfstate.LLMResponse{Content: "ok"}, nil
}

func (f *fakeAdapter) InvokeStructured(ctx context.Context, inv *wfstate.AgentInvocation, schema json.RawMessage) (json.RawMessage, error) {
	f.calls = append(f.calls, inv.Agent)
	return json.RawMessage(`{}`), nil
}

func TestProviderRouterDispatchesToPerAgentAccount(t *testing.T) {
	primary := &fakeAdapter{}
	secondary := &fakeAdapter{}
	router := &providerRouter{
		accounts: map[string]*policy.GatedProvider{
			"primary":   policy.NewGatedProvider(primary, nil),
			"secondary": policy.NewGatedProvider(secondary, nil),
		},
		resolve: func(agent wfstate.Agent) string {
			if agent == wfstate.AgentCodesmith {
				return "secondary"
			}
			return ""
		},
		fallback: "primary",
	}

	if _, err := router.Invoke(context.Background(), &wfstate.AgentInvocation{Agent: wfstate.AgentResearch}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if _, err := router.Invoke(context.Background(), &wfstate.AgentInvocation{Agent: wfstate.AgentCodesmith}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if len(primary.calls) != 1 || primary.calls[0] != wfstate.AgentResearch {
		t.Errorf("primary account calls = %v, want one call for research", primary.calls)
	}
	if len(secondary.calls) != 1 || secondary.calls[0] != wfstate.AgentCodesmith {
		t.Errorf("secondary account calls = %v, want one call for codesmith", secondary.calls)
	}
}

func TestProviderRouterUnknownAccountErrors(t *testing.T) {
	router := &providerRouter{
		accounts: map[string]*policy.GatedProvider{
			"primary": policy.NewGatedProvider(&fakeAdapter{}, nil),
		},
		resolve:  func(wfstate.Agent) string { return "missing" },
		fallback: "primary",
	}

	if _, err := router.Invoke(context.Background(), &wfstate.AgentInvocation{Agent: wfstate.AgentArchitect}); err == nil {
		t.Fatal("expected an error for an unresolvable account")
	}
}
