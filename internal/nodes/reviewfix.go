package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

const reviewfixBudget = 300 * time.Second

const reviewOutputSchema = `{
  "type": "object",
  "properties": {
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "severity": {"type": "string", "enum": ["info", "warning", "error"]},
          "file": {"type": "string"},
          "message": {"type": "string"}
        },
        "required": ["severity", "message"]
      }
    },
    "quality_score": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "required": ["issues", "quality_score"]
}`

type reviewDraft struct {
	Issues       []wfstate.ReviewIssue `json:"issues"`
	QualityScore float64               `json:"quality_score"`
}

// validatorsByExtension maps a generated file's extension to the tool-bus
// server that can validate it. Manifest filenames map through
// validatorsByManifest; detectValidators consults both tables.
var validatorsByExtension = map[string]string{
	".go": "go-validator",
	".py": "python-validator",
	".ts": "ts-validator",
	".js": "ts-validator",
}

var validatorsByManifest = map[string]string{
	"go.mod":           "go-validator",
	"package.json":     "ts-validator",
	"pyproject.toml":   "python-validator",
	"requirements.txt": "python-validator",
}

// ReviewFix implements the reviewfix node (spec §4.2.4): an LLM review pass
// followed by a build-validation probe. The node itself never loops; the
// supervisor decides whether quality_score < 0.75 warrants another codesmith
// pass.
func ReviewFix(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	history := recallResearch(ctx, deps, state)
	inv := newInvocation(deps, wfstate.AgentReviewFix, "Review the generated code for correctness, style, and completeness relative to the architecture. Score quality from 0 to 1.", buildReviewPrompt(state, history))

	raw, err := deps.Provider.InvokeStructured(ctx, inv, json.RawMessage(reviewOutputSchema))
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentReviewFix, wfstate.KindTransientLLM, true, err)}, nil
	}

	var draft reviewDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentReviewFix, wfstate.KindPermanentLLM, false, fmt.Errorf("malformed review output: %w", err))}, nil
	}
	for i := range draft.Issues {
		draft.Issues[i].Source = "llm_review"
	}

	buildPassed := true
	for _, server := range detectValidators(state.GeneratedFiles) {
		ok, issues := runValidator(ctx, deps, server, state.GeneratedFiles)
		draft.Issues = append(draft.Issues, issues...)
		if !ok {
			buildPassed = false
		}
	}
	if !buildPassed && draft.QualityScore > 0.50 {
		draft.QualityScore = 0.50
	}

	report := &wfstate.ReviewReport{Issues: draft.Issues, QualityScore: draft.QualityScore, BuildPassed: buildPassed}

	return &wfstate.Update{
		ReviewReport:       report,
		AccumulatedResults: []wfstate.AccumulatedResult{accumulate(wfstate.AgentReviewFix, fmt.Sprintf("reviewed %d file(s), quality_score=%.2f, build_passed=%v", len(state.GeneratedFiles), report.QualityScore, buildPassed))},
	}, nil
}

// detectValidators returns the distinct validator servers applicable to the
// generated file set: one match per manifest filename present, plus one per
// file extension seen, deduplicated.
func detectValidators(files []wfstate.GeneratedFile) []string {
	seen := map[string]bool{}
	var servers []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			servers = append(servers, s)
		}
	}
	for _, f := range files {
		if server, ok := validatorsByManifest[filepath.Base(f.Path)]; ok {
			add(server)
		}
		if server, ok := validatorsByExtension[filepath.Ext(f.Path)]; ok {
			add(server)
		}
	}
	return servers
}

func runValidator(ctx context.Context, deps *workflow.Deps, server string, files []wfstate.GeneratedFile) (bool, []wfstate.ReviewIssue) {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	resp, err := callTool(ctx, deps, wfstate.AgentReviewFix, server, "validate", map[string]any{"paths": paths}, reviewfixBudget)
	if err != nil {
		return false, []wfstate.ReviewIssue{{Severity: "error", Message: fmt.Sprintf("%s unavailable: %v", server, err), Source: server}}
	}

	var result struct {
		Passed bool                  `json:"passed"`
		Issues []wfstate.ReviewIssue `json:"issues"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return false, []wfstate.ReviewIssue{{Severity: "error", Message: fmt.Sprintf("%s returned malformed output: %v", server, err), Source: server}}
	}
	for i := range result.Issues {
		result.Issues[i].Source = server
	}
	return result.Passed, result.Issues
}

func buildReviewPrompt(state *wfstate.WorkflowState, priorRunHistory []wfstate.ResearchFinding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User request: %s\n", state.UserQuery)
	if state.Architecture != nil {
		sb.WriteString("\nArchitecture:\n")
		for _, c := range state.Architecture.Components {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Responsibility)
		}
	}
	if earlier := priorFindingsNotInScope(state, priorRunHistory); len(earlier) > 0 {
		sb.WriteString("\nResearch from an earlier run against this workspace:\n")
		for _, f := range earlier {
			fmt.Fprintf(&sb, "- [%s] %s\n", f.Kind, f.Findings)
		}
	}
	sb.WriteString("\nGenerated files:\n")
	for _, f := range state.GeneratedFiles {
		fmt.Fprintf(&sb, "- %s (%d bytes, hash %s)\n", f.Path, f.Size, f.Hash)
	}
	return sb.String()
}
