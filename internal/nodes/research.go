package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

const researchBudget = 300 * time.Second

// researchKind classifies what the supervisor asked research to do, chosen
// from the free-text Instructions field per spec §4.2.1.
type researchKind string

const (
	kindWebSearch     researchKind = "web_search"
	kindWorkspaceScan researchKind = "workspace_scan"
	kindBugAnalysis   researchKind = "bug_analysis"
)

// Research implements the research node: web search, workspace scan, or bug
// analysis, chosen by the instructions the supervisor just wrote.
func Research(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	kind := classifyInstructions(state.Instructions)

	switch kind {
	case kindWebSearch:
		return researchWebSearch(ctx, state, deps)
	case kindWorkspaceScan:
		return researchWorkspaceScan(ctx, state, deps)
	default:
		return researchBugAnalysis(ctx, state, deps)
	}
}

func classifyInstructions(instructions string) researchKind {
	lower := strings.ToLower(instructions)
	switch {
	case strings.Contains(lower, "web") || strings.Contains(lower, "search"):
		return kindWebSearch
	case strings.Contains(lower, "bug") || strings.Contains(lower, "analyze bugs") || strings.Contains(lower, "root cause"):
		return kindBugAnalysis
	default:
		return kindWorkspaceScan
	}
}

func researchWebSearch(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	query := state.UserQuery
	if state.Instructions != "" {
		query = state.Instructions
	}

	resp, err := callTool(ctx, deps, wfstate.AgentResearch, "web-search", "search", map[string]any{"query": query}, researchBudget)
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindToolServerUnavail, true, err)}, nil
	}

	var results struct {
		Summary   string   `json:"summary"`
		Citations []string `json:"citations"`
	}
	if err := json.Unmarshal(resp.Result, &results); err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindToolCallFailed, false, fmt.Errorf("malformed web-search payload: %w", err))}, nil
	}

	inv := newInvocation(deps, wfstate.AgentResearch, "Summarize the web search results relevant to the user's request in a few sentences.", fmt.Sprintf("Request: %s\n\nSearch results:\n%s", state.UserQuery, results.Summary))
	llmResp, err := invokeLLM(ctx, deps, wfstate.AgentResearch, inv)
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindTransientLLM, true, err)}, nil
	}

	finding := wfstate.ResearchFinding{
		Kind:        string(kindWebSearch),
		Query:       query,
		Findings:    llmResp.Content,
		Citations:   results.Citations,
		CollectedAt: time.Now(),
	}
	rememberResearch(ctx, deps, state, finding)
	return &wfstate.Update{
		ResearchContext:    []wfstate.ResearchFinding{finding},
		AccumulatedResults: []wfstate.AccumulatedResult{accumulate(wfstate.AgentResearch, "completed web search", results.Citations...)},
	}, nil
}

func researchWorkspaceScan(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	indexResp, err := callTool(ctx, deps, wfstate.AgentResearch, "code-index", "list_files", map[string]any{"root": state.WorkspacePath}, researchBudget)
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindToolServerUnavail, true, err)}, nil
	}

	var files struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(indexResp.Result, &files); err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindToolCallFailed, false, fmt.Errorf("malformed code-index payload: %w", err))}, nil
	}

	parseResp, err := callTool(ctx, deps, wfstate.AgentResearch, "code-parse", "extract_structure", map[string]any{"paths": files.Paths}, researchBudget)
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindToolServerUnavail, true, err)}, nil
	}

	var structure struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(parseResp.Result, &structure); err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindToolCallFailed, false, fmt.Errorf("malformed code-parse payload: %w", err))}, nil
	}

	finding := wfstate.ResearchFinding{
		Kind:        string(kindWorkspaceScan),
		Query:       state.WorkspacePath,
		Findings:    structure.Summary,
		CollectedAt: time.Now(),
	}
	rememberResearch(ctx, deps, state, finding)
	return &wfstate.Update{
		ResearchContext:    []wfstate.ResearchFinding{finding},
		AccumulatedResults: []wfstate.AccumulatedResult{accumulate(wfstate.AgentResearch, fmt.Sprintf("scanned %d workspace files", len(files.Paths)))},
	}, nil
}

func researchBugAnalysis(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	paths := make([]string, 0, len(state.GeneratedFiles))
	for _, f := range state.GeneratedFiles {
		paths = append(paths, f.Path)
	}

	parseResp, err := callTool(ctx, deps, wfstate.AgentResearch, "code-parse", "extract_structure", map[string]any{"paths": paths}, researchBudget)
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindToolServerUnavail, true, err)}, nil
	}

	inv := newInvocation(deps, wfstate.AgentResearch, "You are debugging a codebase. Identify likely root causes from the provided structure and the user's report.", fmt.Sprintf("User report: %s\n\nStructure:\n%s", state.UserQuery, string(parseResp.Result)))
	llmResp, err := invokeLLM(ctx, deps, wfstate.AgentResearch, inv)
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentResearch, wfstate.KindTransientLLM, true, err)}, nil
	}

	finding := wfstate.ResearchFinding{
		Kind:        string(kindBugAnalysis),
		Query:       state.UserQuery,
		Findings:    llmResp.Content,
		CollectedAt: time.Now(),
	}
	rememberResearch(ctx, deps, state, finding)
	return &wfstate.Update{
		ResearchContext:    []wfstate.ResearchFinding{finding},
		AccumulatedResults: []wfstate.AccumulatedResult{accumulate(wfstate.AgentResearch, "completed bug analysis")},
	}, nil
}
