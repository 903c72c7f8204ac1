// Package supervisor implements the sole decision-maker in the workflow
// graph (spec §4.1): given the current WorkflowState it asks an LLM, under a
// structured-output schema, which node(s) run next and why. Text-parsing a
// free-form reply is deliberately not supported here — a prior design that
// let every node branch for itself produced exponential coupling and
// inconsistent termination (spec §9); centralizing routing in one place with
// a schema-validated contract is what keeps the state machine honest.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgeflow/conductor/internal/wfstate"
	"github.com/forgeflow/conductor/internal/workflow"
)

// Action is the top-level routing verb the supervisor LLM must choose.
type Action string

const (
	ActionContinue Action = "CONTINUE"
	ActionParallel Action = "PARALLEL"
	ActionFinish   Action = "FINISH"
)

// Decision is the structured-output shape the supervisor LLM is constrained
// to produce, mirroring spec §3.1's SupervisorDecision entity.
type Decision struct {
	Action       Action   `json:"action"`
	NextAgent    string   `json:"next_agent,omitempty"`
	NextAgents   []string `json:"next_agents,omitempty"`
	Instructions string   `json:"instructions"`
	Reasoning    string   `json:"reasoning"`
}

// allowedTargets is the fixed set of nodes the supervisor may route to,
// independent of configuration — the five agents are not pluggable.
var allowedTargets = []wfstate.Agent{
	wfstate.AgentResearch, wfstate.AgentArchitect, wfstate.AgentCodesmith,
	wfstate.AgentReviewFix, wfstate.AgentResponder,
}

// anyExecuted reports whether at least one of the given agents has run.
func anyExecuted(state *wfstate.WorkflowState, agents ...wfstate.Agent) bool {
	for _, a := range agents {
		if state.ExecutedAgents[a] > 0 {
			return true
		}
	}
	return false
}

// Config tunes the supervisor's prompt and the LLM call it drives.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	System      string
}

// New builds a workflow.SupervisorFunc that asks deps.Provider for a
// DecisionSchema-constrained decision on every call. The returned func is
// what internal/workflow's Graph calls every hop.
func New(cfg Config) workflow.SupervisorFunc {
	if cfg.System == "" {
		cfg.System = defaultSystemPrompt
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	return func(ctx context.Context, state *wfstate.WorkflowState, deps *workflow.Deps) (*workflow.Command, error) {
		inv := &wfstate.AgentInvocation{
			Agent:        wfstate.AgentSupervisor,
			PromptSystem: cfg.System,
			PromptUser:   buildDecisionPrompt(state),
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
		}

		raw, err := deps.Provider.InvokeStructured(ctx, inv, DecisionSchema)
		if err != nil {
			return nil, fmt.Errorf("supervisor: invoke_structured failed: %w", err)
		}

		var d Decision
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("supervisor: malformed structured output: %w", err)
		}
		if err := ValidateSchema(raw); err != nil {
			return nil, fmt.Errorf("supervisor: structured output failed schema validation: %w", err)
		}

		cmd, err := resolve(state, &d)
		if err != nil {
			return nil, err
		}

		deps.Events.Publish(ctx, decisionEvent(cmd))
		return cmd, nil
	}
}

// resolve turns a raw Decision into a validated Command, applying the
// validation and downgrade rules from spec §4.1 steps 3-4.
func resolve(state *wfstate.WorkflowState, d *Decision) (*workflow.Command, error) {
	switch d.Action {
	case ActionFinish:
		if !anyExecuted(state, wfstate.AgentResponder, wfstate.AgentCodesmith, wfstate.AgentReviewFix) {
			// Downgrade: FINISH before any real work happened is not a valid
			// terminal state (spec §4.1 step 4).
			return continueTo(wfstate.AgentResponder, d.Instructions, "finish requested before any of responder/codesmith/reviewfix ran; downgraded to responder")
		}
		return &workflow.Command{Goto: []wfstate.Agent{workflow.END}, Reasoning: d.Reasoning}, nil

	case ActionParallel:
		if len(d.NextAgents) < 2 {
			return nil, fmt.Errorf("supervisor: PARALLEL action requires at least two next_agents, got %d", len(d.NextAgents))
		}
		targets := make([]wfstate.Agent, 0, len(d.NextAgents))
		seen := map[wfstate.Agent]bool{}
		for _, name := range d.NextAgents {
			a := wfstate.Agent(name)
			if !isAllowed(a) {
				return nil, fmt.Errorf("supervisor: target %q is not an allowed node", name)
			}
			if seen[a] {
				return nil, fmt.Errorf("supervisor: parallel plan names %q twice", name)
			}
			seen[a] = true
			targets = append(targets, a)
		}
		if conflict := sharedSlotConflict(targets); conflict != "" {
			return nil, fmt.Errorf("supervisor: parallel plan rejected, %s", conflict)
		}
		return &workflow.Command{
			Goto:      targets,
			Update:    instructionUpdate(d.Instructions),
			Reasoning: d.Reasoning,
		}, nil

	case ActionContinue:
		if !isAllowed(wfstate.Agent(d.NextAgent)) {
			return nil, fmt.Errorf("supervisor: next_agent %q is not an allowed node", d.NextAgent)
		}
		return continueTo(wfstate.Agent(d.NextAgent), d.Instructions, d.Reasoning)

	default:
		return nil, fmt.Errorf("supervisor: unknown action %q", d.Action)
	}
}

func continueTo(agent wfstate.Agent, instructions, reasoning string) (*workflow.Command, error) {
	return &workflow.Command{
		Goto:      []wfstate.Agent{agent},
		Update:    instructionUpdate(instructions),
		Reasoning: reasoning,
	}, nil
}

func instructionUpdate(instructions string) *wfstate.Update {
	if instructions == "" {
		return nil
	}
	return &wfstate.Update{Instructions: &instructions}
}

func isAllowed(a wfstate.Agent) bool {
	for _, t := range allowedTargets {
		if t == a {
			return true
		}
	}
	return false
}

// sharedSlotConflict implements the decision from DESIGN.md's open-question
// log: a parallel plan whose siblings write the same result slot is rejected
// at decision time rather than merged. research/architect/codesmith/
// reviewfix each own a disjoint slot, so the only real conflict is
// dispatching the same node twice, already caught by the seen-set above;
// this exists as the explicit, named check the spec asks for.
func sharedSlotConflict(targets []wfstate.Agent) string {
	slot := func(a wfstate.Agent) string {
		switch a {
		case wfstate.AgentResearch:
			return "research_context"
		case wfstate.AgentArchitect:
			return "architecture"
		case wfstate.AgentCodesmith:
			return "generated_files"
		case wfstate.AgentReviewFix:
			return "review_report"
		case wfstate.AgentResponder:
			return "user_response"
		default:
			return string(a)
		}
	}
	seen := map[string]wfstate.Agent{}
	for _, a := range targets {
		s := slot(a)
		if prior, ok := seen[s]; ok {
			return fmt.Sprintf("%s and %s both write %q", prior, a, s)
		}
		seen[s] = a
	}
	return ""
}

const defaultSystemPrompt = `You are the supervisor of a five-agent software engineering workflow:
research, architect, codesmith, reviewfix, responder.

Given the current workflow state, decide what happens next. You must reply
using the structured decision schema you were given — never free text.

Guidelines:
- CONTINUE routes to exactly one agent next.
- PARALLEL routes to two or more agents whose outputs do not overlap.
- FINISH ends the workflow; only choose it once real work has happened
  (at least one of codesmith, reviewfix, or responder has already run).
- Prefer responder as the last step so the user gets a synthesized answer.
- If reviewfix reports a quality_score below 0.75, consider routing back to
  codesmith for another pass rather than finishing.
- Always explain your reasoning briefly; self-transitions (re-dispatching
  the same agent) are allowed but must show real progress.`
