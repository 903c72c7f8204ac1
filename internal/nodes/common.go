// Package nodes implements the five stateless agent functions dispatched by
// the workflow graph (spec §4.2): research, architect, codesmith, reviewfix,
// responder. Each is a pure-ish function of (state, deps) → update; none
// hold mutable state across invocations, and none talk to a tool server or
// an LLM except through the Deps side-channel the graph supplies.
package nodes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

// newInvocation builds an AgentInvocation pre-populated with the tool bus's
// declared tools, so internal/policy.GatedProvider's FilterForAgent call has
// a real set to narrow down per agent instead of an always-empty one.
func newInvocation(deps *workflow.Deps, agent wfstate.Agent, system, user string) *wfstate.AgentInvocation {
	inv := &wfstate.AgentInvocation{Agent: agent, PromptSystem: system, PromptUser: user}
	if deps.Tools != nil {
		inv.ToolsAllowed = deps.Tools.DeclaredTools()
	}
	return inv
}

// memoryKeyResearch is the Deps.Memory key research history is kept under,
// scoped per session by Remember/Recall's sessionID argument (Open Question
// decision 3: persistent memory read/write policy).
const memoryKeyResearch = "research_findings"

// rememberResearch appends finding to the session's persisted research
// history via deps.Memory, tolerating a nil Memory — it is an optional
// collaborator (spec §6.2 "(optional) relational memory store").
func rememberResearch(ctx context.Context, deps *workflow.Deps, state *wfstate.WorkflowState, finding wfstate.ResearchFinding) {
	if deps.Memory == nil {
		return
	}
	history := append(recallResearch(ctx, deps, state), finding)
	encoded, err := json.Marshal(history)
	if err != nil {
		return
	}
	_ = deps.Memory.Remember(ctx, state.SessionID, memoryKeyResearch, encoded)
}

// recallResearch reads research history persisted by an earlier run against
// this session, tolerating a nil Memory or no history recorded yet.
func recallResearch(ctx context.Context, deps *workflow.Deps, state *wfstate.WorkflowState) []wfstate.ResearchFinding {
	if deps.Memory == nil {
		return nil
	}
	raw, ok, err := deps.Memory.Recall(ctx, state.SessionID, memoryKeyResearch)
	if err != nil || !ok {
		return nil
	}
	var history []wfstate.ResearchFinding
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil
	}
	return history
}

// priorFindingsNotInScope filters history down to the entries not already
// present in state.ResearchContext (matched by kind+query), so a node that
// recalls persisted research doesn't repeat what the current run's own
// research node already surfaced.
func priorFindingsNotInScope(state *wfstate.WorkflowState, history []wfstate.ResearchFinding) []wfstate.ResearchFinding {
	if len(history) == 0 {
		return nil
	}
	inScope := make(map[string]bool, len(state.ResearchContext))
	for _, f := range state.ResearchContext {
		inScope[f.Kind+"\x00"+f.Query] = true
	}
	var out []wfstate.ResearchFinding
	for _, f := range history {
		if !inScope[f.Kind+"\x00"+f.Query] {
			out = append(out, f)
		}
	}
	return out
}

// callTool wraps a single tool-bus call with the agent_tool_start /
// agent_tool_complete events every node's tool usage must emit (spec §4.4).
func callTool(ctx context.Context, deps *workflow.Deps, agent wfstate.Agent, server, tool string, args any, timeout time.Duration) (*wfstate.ToolResponse, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal tool arguments for %s/%s: %w", agent, server, tool, err)
	}

	deps.Events.Publish(ctx, startEvent(agent, server, tool))
	start := time.Now()

	resp, err := deps.Tools.Call(ctx, server, tool, payload, timeout)

	ok := err == nil && resp != nil && resp.OK
	deps.Events.Publish(ctx, completeEvent(agent, server, tool, ok, time.Since(start)))

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// invokeLLM wraps one Agent Adapter call with agent_thinking / agent_complete
// events, per spec §4.4.
func invokeLLM(ctx context.Context, deps *workflow.Deps, agent wfstate.Agent, inv *wfstate.AgentInvocation) (*wfstate.LLMResponse, error) {
	deps.Events.Publish(ctx, thinkingEvent(agent, inv.PromptUser))
	resp, err := deps.Provider.Invoke(ctx, inv)
	if err != nil {
		return nil, err
	}
	deps.Events.Publish(ctx, completeLLMEvent(agent, resp.Content))
	return resp, nil
}

// recoverableError builds a single-entry error slice for a node's Update,
// per spec §7's propagation policy: node-local recoverable errors are
// appended to state.errors rather than raised.
func recoverableError(agent wfstate.Agent, kind wfstate.ErrorKind, retriable bool, err error) []wfstate.RecordedError {
	return []wfstate.RecordedError{{
		Agent:     agent,
		Kind:      kind,
		Message:   err.Error(),
		Retriable: retriable,
		At:        time.Now(),
	}}
}

// hashContent returns the hex-encoded sha256 of file content, used for the
// codesmith node's {path, hash} deduplication rule (spec §4.2.3).
func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func accumulate(agent wfstate.Agent, summary string, refs ...string) wfstate.AccumulatedResult {
	return wfstate.AccumulatedResult{
		Agent:        agent,
		Summary:      summary,
		ArtifactRefs: refs,
		Timestamp:    time.Now(),
	}
}
