package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

const (
	codesmithBudget          = 900 * time.Second
	codesmithApprovalTimeout = 2 * time.Minute
)

// Codesmith implements the codesmith node: request code from the LLM in the
// file-block format, then materialize each declared file via the write-file
// tool (spec §4.2.3). Two blocks with identical {path, hash} are a no-op;
// same path with a different hash means the later one wins and a
// file_overwritten notice is emitted. When a write would overwrite an
// existing path and an Approver is configured, the overwrite blocks on a
// human decision first (spec §6.3 approval_request); a rejection or timeout
// skips that file without failing the rest of the batch.
func Codesmith(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*wfstate.Update, error) {
	inv := newInvocation(deps, wfstate.AgentCodesmith, codesmithSystemPrompt, buildCodesmithPrompt(state))
	inv.Deadline = time.Now().Add(codesmithBudget)

	resp, err := invokeLLM(ctx, deps, wfstate.AgentCodesmith, inv)
	if err != nil {
		return &wfstate.Update{Errors: recoverableError(wfstate.AgentCodesmith, wfstate.KindTransientLLM, true, err)}, nil
	}

	var rejected []wfstate.RecordedError
	blocks := ParseFileBlocks(resp.Content, state.WorkspacePath, func(path, reason string) {
		rejected = append(rejected, wfstate.RecordedError{
			Agent:     wfstate.AgentCodesmith,
			Kind:      wfstate.KindPathEscape,
			Message:   fmt.Sprintf("rejected file block %q: %s", path, reason),
			Retriable: false,
			At:        time.Now(),
		})
	})

	existingHash := make(map[string]string, len(state.GeneratedFiles))
	for _, f := range state.GeneratedFiles {
		existingHash[f.Path] = f.Hash
	}

	var written []wfstate.GeneratedFile
	var refs []string
	seenThisHop := make(map[string]string)

	for _, block := range blocks {
		hash := hashContent(block.Content)

		if prior, ok := existingHash[block.Path]; ok && prior == hash {
			continue // identical {path, hash}: no-op per spec §4.2.3
		}
		if prior, ok := seenThisHop[block.Path]; ok && prior == hash {
			continue
		}

		overwriting := existingHash[block.Path] != "" || seenThisHop[block.Path] != ""
		if overwriting && deps.Approver != nil {
			decision, err := deps.Approver.RequestApproval(ctx, "overwrite_file", block.Path, codesmithApprovalTimeout)
			if err != nil || !decision.Approved {
				rejected = append(rejected, wfstate.RecordedError{
					Agent: wfstate.AgentCodesmith, Kind: wfstate.KindStateInvariant,
					Message: fmt.Sprintf("overwrite of %q not approved, skipping", block.Path), Retriable: false, At: time.Now(),
				})
				continue
			}
		}

		_, err := callTool(ctx, deps, wfstate.AgentCodesmith, "workspace-fs", "write_file", map[string]any{
			"path":    block.Path,
			"content": string(block.Content),
		}, 30*time.Second)
		if err != nil {
			rejected = append(rejected, wfstate.RecordedError{
				Agent: wfstate.AgentCodesmith, Kind: wfstate.KindToolCallFailed,
				Message: fmt.Sprintf("write_file failed for %q: %v", block.Path, err), Retriable: true, At: time.Now(),
			})
			continue
		}

		seenThisHop[block.Path] = hash

		gf := wfstate.GeneratedFile{Path: block.Path, Size: int64(len(block.Content)), Hash: hash, WrittenAt: time.Now()}
		written = append(written, gf)
		refs = append(refs, block.Path)

		if overwriting {
			deps.Events.Publish(ctx, eventstream.FileOverwritten(block.Path))
		} else {
			deps.Events.Publish(ctx, eventstream.FileWritten(block.Path, gf.Size))
		}
	}

	accResults := []wfstate.AccumulatedResult{}
	if len(written) > 0 {
		accResults = append(accResults, accumulate(wfstate.AgentCodesmith, fmt.Sprintf("wrote %d file(s)", len(written)), refs...))
	}

	return &wfstate.Update{
		GeneratedFiles:     written,
		AccumulatedResults: accResults,
		Errors:             rejected,
	}, nil
}

const codesmithSystemPrompt = `You generate source code for a software engineering task.

Output every file you want written using this exact format, one per file:

### FILE: relative/path/to/file.ext
` + fence + `
<full file content>
` + fence + `

Paths must be relative to the workspace root. Never use "../" or an
absolute path. Do not include any other commentary outside the file blocks
unless the user's task has no code output at all.`

func buildCodesmithPrompt(state *wfstate.WorkflowState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User request: %s\n", state.UserQuery)
	if state.Instructions != "" {
		fmt.Fprintf(&sb, "Supervisor instructions: %s\n", state.Instructions)
	}
	if state.Architecture != nil {
		sb.WriteString("\nArchitecture:\n")
		for _, c := range state.Architecture.Components {
			fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Responsibility)
		}
	}
	if len(state.ResearchContext) > 0 {
		sb.WriteString("\nRelevant research:\n")
		for _, f := range state.ResearchContext {
			fmt.Fprintf(&sb, "- [%s] %s\n", f.Kind, f.Findings)
		}
	}
	if len(state.GeneratedFiles) > 0 {
		sb.WriteString("\nFiles already generated (only re-emit what changes):\n")
		for _, f := range state.GeneratedFiles {
			fmt.Fprintf(&sb, "- %s (%d bytes)\n", f.Path, f.Size)
		}
	}
	return sb.String()
}
