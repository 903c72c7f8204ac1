package supervisor

import (
	"fmt"
	"strings"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

const summaryTruncateLen = 400

// buildDecisionPrompt assembles the compact decision prompt described in
// spec §4.1 step 1: the user's query, truncated summaries of each result
// slot, the last agent, execution tallies, and the allowed targets.
func buildDecisionPrompt(state *wfstate.WorkflowState) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "User request: %s\n\n", state.UserQuery)
	fmt.Fprintf(&sb, "Last agent dispatched: %s\n", orNone(string(state.LastAgent)))
	fmt.Fprintf(&sb, "Iteration: %d\n", state.Iteration)
	fmt.Fprintf(&sb, "Execution tallies: %s\n\n", tallyLine(state.ExecutedAgents))

	fmt.Fprintf(&sb, "Research context: %d finding(s). %s\n", len(state.ResearchContext), truncate(lastFinding(state.ResearchContext)))
	fmt.Fprintf(&sb, "Architecture: %s\n", truncate(architectureSummary(state.Architecture)))
	fmt.Fprintf(&sb, "Generated files: %d file(s). %s\n", len(state.GeneratedFiles), truncate(lastFile(state.GeneratedFiles)))
	fmt.Fprintf(&sb, "Review report: %s\n", truncate(reviewSummary(state.ReviewReport)))

	if n := len(state.Errors); n > 0 {
		fmt.Fprintf(&sb, "Recorded errors: %d (most recent: %s)\n", n, truncate(state.Errors[n-1].Message))
	}

	sb.WriteString("\nAllowed targets: research, architect, codesmith, reviewfix, responder.\n")
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "none (workflow just started)"
	}
	return s
}

func tallyLine(counts map[wfstate.Agent]int) string {
	if len(counts) == 0 {
		return "none yet"
	}
	var parts []string
	for _, a := range []wfstate.Agent{
		wfstate.AgentResearch, wfstate.AgentArchitect, wfstate.AgentCodesmith,
		wfstate.AgentReviewFix, wfstate.AgentResponder,
	} {
		if n := counts[a]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", a, n))
		}
	}
	if len(parts) == 0 {
		return "none yet"
	}
	return strings.Join(parts, ", ")
}

func lastFinding(findings []wfstate.ResearchFinding) string {
	if len(findings) == 0 {
		return "(empty)"
	}
	f := findings[len(findings)-1]
	return fmt.Sprintf("latest[%s]: %s", f.Kind, f.Findings)
}

func architectureSummary(a *wfstate.Architecture) string {
	if a == nil {
		return "(none yet)"
	}
	names := make([]string, len(a.Components))
	for i, c := range a.Components {
		names[i] = c.Name
	}
	return fmt.Sprintf("revision %d, components: %s", a.Revision, strings.Join(names, ", "))
}

func lastFile(files []wfstate.GeneratedFile) string {
	if len(files) == 0 {
		return "(none yet)"
	}
	return fmt.Sprintf("latest: %s", files[len(files)-1].Path)
}

func reviewSummary(r *wfstate.ReviewReport) string {
	if r == nil {
		return "(not reviewed yet)"
	}
	return fmt.Sprintf("quality_score=%.2f build_passed=%v issues=%d", r.QualityScore, r.BuildPassed, len(r.Issues))
}

func truncate(s string) string {
	if len(s) <= summaryTruncateLen {
		return s
	}
	return s[:summaryTruncateLen] + "…"
}

func decisionEvent(cmd *workflow.Command) eventstream.Event {
	next := make([]string, len(cmd.Goto))
	for i, a := range cmd.Goto {
		next[i] = string(a)
	}
	return eventstream.SupervisorDecision(next, cmd.Reasoning)
}
