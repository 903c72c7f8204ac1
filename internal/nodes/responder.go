package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

// Responder implements the responder node (spec §4.2.5): synthesize a final
// human-readable message from everything accumulated so far. It is the sole
// writer of UserResponse and must never invent content not supported by
// AccumulatedResults — the prompt hands the LLM exactly that log and nothing
// else to draw from.
func Responder(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	if len(state.AccumulatedResults) == 0 {
		resp := "No work was completed for this request."
		canEnd := true
		return &wfstate.Update{UserResponse: &resp, CanEndWorkflow: &canEnd}, nil
	}

	inv := newInvocation(deps, wfstate.AgentResponder, responderSystemPrompt, buildResponderPrompt(state))

	resp, err := invokeLLM(ctx, deps, wfstate.AgentResponder, inv)
	if err != nil {
		// Fall back to a mechanical summary rather than leaving the run
		// without any user_response (spec §7's "every workflow terminates
		// with exactly one workflow_complete event" / user-visible failure
		// behavior requirement).
		summary := mechanicalSummary(state)
		canEnd := true
		return &wfstate.Update{
			UserResponse:       &summary,
			CanEndWorkflow:     &canEnd,
			Errors:             recoverableError(wfstate.AgentResponder, wfstate.KindTransientLLM, true, err),
			AccumulatedResults: []wfstate.AccumulatedResult{accumulate(wfstate.AgentResponder, "synthesized fallback summary after LLM failure")},
		}, nil
	}

	canEnd := true
	return &wfstate.Update{
		UserResponse:       &resp.Content,
		CanEndWorkflow:     &canEnd,
		AccumulatedResults: []wfstate.AccumulatedResult{accumulate(wfstate.AgentResponder, "synthesized final response")},
	}, nil
}

const responderSystemPrompt = `You write the final message shown to the user after a multi-agent
software engineering workflow completes. Summarize what was done,
reference concrete artifacts (file paths, counts), call out any known
issues, and state what is retriable. Only describe things present in the
accumulated results you are given; never invent outcomes.`

func buildResponderPrompt(state *wfstate.WorkflowState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User request: %s\n", state.UserQuery)
	if state.Instructions != "" {
		fmt.Fprintf(&sb, "Supervisor instructions: %s\n", state.Instructions)
	}
	sb.WriteString("\nAccumulated results:\n")
	for _, r := range state.AccumulatedResults {
		fmt.Fprintf(&sb, "- [%s] %s", r.Agent, r.Summary)
		if len(r.ArtifactRefs) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(r.ArtifactRefs, ", "))
		}
		sb.WriteString("\n")
	}
	if state.ReviewReport != nil {
		fmt.Fprintf(&sb, "\nReview: quality_score=%.2f build_passed=%v, %d issue(s)\n", state.ReviewReport.QualityScore, state.ReviewReport.BuildPassed, len(state.ReviewReport.Issues))
	}
	if len(state.Errors) > 0 {
		sb.WriteString("\nErrors encountered:\n")
		for _, e := range state.Errors {
			fmt.Fprintf(&sb, "- [%s/%s] %s (retriable=%v)\n", e.Agent, e.Kind, e.Message, e.Retriable)
		}
	}
	return sb.String()
}

func mechanicalSummary(state *wfstate.WorkflowState) string {
	var sb strings.Builder
	sb.WriteString("Workflow completed. Summary:\n")
	for _, r := range state.AccumulatedResults {
		fmt.Fprintf(&sb, "- %s: %s\n", r.Agent, r.Summary)
	}
	if len(state.Errors) > 0 {
		fmt.Fprintf(&sb, "%d error(s) were recorded during the run.\n", len(state.Errors))
	}
	return sb.String()
}
