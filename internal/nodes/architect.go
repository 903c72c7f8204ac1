package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

// architectOutputSchema constrains the architect LLM's structured reply to
// the shape of wfstate.Architecture (minus Revision, which the node sets).
const architectOutputSchema = `{
  "type": "object",
  "properties": {
    "components": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "responsibility": {"type": "string"},
          "depends_on": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["name", "responsibility"]
      }
    },
    "data_model": {"type": "string"},
    "external_interfaces": {"type": "array", "items": {"type": "string"}},
    "decisions": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["components"]
}`

type architectDraft struct {
	Components         []wfstate.ArchitectureComponent `json:"components"`
	DataModel          string                          `json:"data_model"`
	ExternalInterfaces []string                        `json:"external_interfaces"`
	Decisions          []string                        `json:"decisions"`
}

// Architect implements the architect node: produce or iteratively refine the
// architecture document (spec §4.2.2). A returning-with-empty-components
// outcome is a failure and the prior architecture (possibly nil) is kept.
func Architect(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	history := recallResearch(ctx, deps, state)
	inv := newInvocation(deps, wfstate.AgentArchitect, architectSystemPrompt(state.Architecture != nil), buildArchitectPrompt(state, history))

	raw, err := deps.Provider.InvokeStructured(ctx, inv, json.RawMessage(architectOutputSchema))
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentArchitect, wfstate.KindTransientLLM, true, err)}, nil
	}

	var draft architectDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentArchitect, wfstate.KindPermanentLLM, false, fmt.Errorf("malformed architecture output: %w", err))}, nil
	}

	if len(draft.Components) == 0 {
		return &wfstate.Update{
			Errors: recoverableError(wfstate.AgentArchitect, wfstate.KindPermanentLLM, false, fmt.Errorf("architect returned zero components")),
		}, nil
	}

	revision := 1
	accResults := []wfstate.AccumulatedResult{}
	if state.Architecture != nil {
		revision = state.Architecture.Revision + 1
		accResults = append(accResults, accumulate(wfstate.AgentArchitect, fmt.Sprintf("superseded architecture revision %d", state.Architecture.Revision)))
	}

	arch := &wfstate.Architecture{
		Components:         draft.Components,
		DataModel:          draft.DataModel,
		ExternalInterfaces: draft.ExternalInterfaces,
		Decisions:          draft.Decisions,
		Revision:           revision,
	}

	names := make([]string, len(arch.Components))
	for i, c := range arch.Components {
		names[i] = c.Name
	}
	accResults = append(accResults, accumulate(wfstate.AgentArchitect, fmt.Sprintf("produced architecture revision %d", revision), names...))

	return &wfstate.Update{
		Architecture:       arch,
		AccumulatedResults: accResults,
	}, nil
}

func architectSystemPrompt(refining bool) string {
	if refining {
		return "You are refining an existing software architecture based on new feedback. Produce the complete, revised architecture document; do not describe a diff."
	}
	return "You are designing a software architecture from a user request and any research findings. Produce components, a data model summary, external interfaces, and key decisions."
}

func buildArchitectPrompt(state *wfstate.WorkflowState, priorRunHistory []wfstate.ResearchFinding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User request: %s\n", state.UserQuery)
	if state.Instructions != "" {
		fmt.Fprintf(&sb, "Supervisor instructions: %s\n", state.Instructions)
	}
	if len(state.ResearchContext) > 0 {
		sb.WriteString("\nResearch findings:\n")
		for _, f := range state.ResearchContext {
			fmt.Fprintf(&sb, "- [%s] %s\n", f.Kind, f.Findings)
		}
	}
	if earlier := priorFindingsNotInScope(state, priorRunHistory); len(earlier) > 0 {
		sb.WriteString("\nResearch from an earlier run against this workspace:\n")
		for _, f := range earlier {
			fmt.Fprintf(&sb, "- [%s] %s\n", f.Kind, f.Findings)
		}
	}
	if state.Architecture != nil {
		fmt.Fprintf(&sb, "\nPrior architecture (revision %d) to refine:\n", state.Architecture.Revision)
		for _, c := range state.Architecture.Components {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Responsibility)
		}
	}
	return sb.String()
}
