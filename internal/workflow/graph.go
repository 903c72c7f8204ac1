// Package workflow hosts the five agent nodes and the supervisor behind a
// single dispatch loop (spec §4.5): START always enters the supervisor; the
// supervisor's Command names the node(s) to run next; the graph runs them,
// merges their updates into WorkflowState, and re-enters the supervisor.
// The graph, not the supervisor, owns termination: the hard recursion
// ceiling, the no-progress rule, and cooperative cancellation all live here.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// Status is the terminal state a Run ends in, per spec §4.1's state machine.
type Status string

const (
	StatusOK        Status = "TERMINATED_OK"
	StatusLimit     Status = "TERMINATED_LIMIT"
	StatusError     Status = "TERMINATED_ERROR"
	StatusCancelled Status = "TERMINATED_ERROR" // kind=cancelled, same terminal bucket
)

// Node is a stateless agent function: it reads state and instructions, and
// returns a partial update. Nodes hold no mutable state of their own across
// invocations (spec §4.2).
type Node func(ctx context.Context, state *wfstate.WorkflowState, deps *Deps) (*wfstate.Update, error)

// SupervisorFunc is the sole decision-maker: given the current state, it
// returns the Command to execute next (spec §4.1).
type SupervisorFunc func(ctx context.Context, state *wfstate.WorkflowState, deps *Deps) (*Command, error)

// Checkpointer persists one transition. Implementations must tolerate being
// nil-checked away entirely: checkpointing is optional (spec §6.5).
type Checkpointer interface {
	Save(ctx context.Context, sessionID string, iteration int, state *wfstate.WorkflowState, cmd *Command) error
}

// DefaultRecursionLimit is used when a Graph is built with RecursionLimit<=0.
const DefaultRecursionLimit = 20

// CancelGrace is how long an in-flight node dispatch is given to finish
// after cancellation before the run is abandoned (spec §5).
const CancelGrace = 5 * time.Second

// Graph wires the five fixed nodes and one supervisor into the dispatch loop
// described in spec §4.5. A Graph is reusable across runs of the same
// workspace as long as Deps stays valid; WorkflowState itself is per-run.
type Graph struct {
	nodes              map[wfstate.Agent]Node
	supervisor         SupervisorFunc
	deps               *Deps
	recursionLimit     int
	checkpoint         Checkpointer
	log                *slog.Logger
	defaultNodeTimeout time.Duration
	nodeTimeouts       map[wfstate.Agent]time.Duration
}

// Option configures a Graph at construction time.
type Option func(*Graph)

func WithRecursionLimit(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.recursionLimit = n
		}
	}
}

func WithCheckpointer(c Checkpointer) Option {
	return func(g *Graph) { g.checkpoint = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.log = l }
}

// WithNodeTimeouts sets the default per-node wall-clock budget and any
// per-agent overrides (spec §6.5 `default_node_timeout_ms` + per-node
// overrides). A zero defaultTimeout leaves the built-in fallback (900s
// for codesmith, 300s otherwise) in place.
func WithNodeTimeouts(defaultTimeout time.Duration, overrides map[wfstate.Agent]time.Duration) Option {
	return func(g *Graph) {
		g.defaultNodeTimeout = defaultTimeout
		g.nodeTimeouts = overrides
	}
}

// New builds a Graph. nodes must contain exactly the five fixed agents;
// New panics on a malformed node map since that is a wiring bug caught at
// boot, not a runtime condition (mirrors the teacher's NewOrchestrator
// panicking on a bad agent registration).
func New(nodes map[wfstate.Agent]Node, supervisor SupervisorFunc, deps *Deps, opts ...Option) *Graph {
	required := []wfstate.Agent{
		wfstate.AgentResearch, wfstate.AgentArchitect, wfstate.AgentCodesmith,
		wfstate.AgentReviewFix, wfstate.AgentResponder,
	}
	for _, a := range required {
		if _, ok := nodes[a]; !ok {
			panic(fmt.Sprintf("workflow: missing required node %q", a))
		}
	}
	if supervisor == nil {
		panic("workflow: supervisor function is required")
	}

	g := &Graph{
		nodes:          nodes,
		supervisor:     supervisor,
		deps:           deps,
		recursionLimit: DefaultRecursionLimit,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Result is the outcome of one Run.
type Result struct {
	Status Status
	State  *wfstate.WorkflowState
	Err    error
}

// Run drives the dispatch loop to completion: START → supervisor → node(s) →
// supervisor → … until the supervisor returns Command{Goto: [END]}, the
// recursion limit trips, cancellation is observed, or a fatal error is
// raised. Exactly one terminal Result is returned per spec §8.1's invariant
// that every run produces exactly one workflow_complete-equivalent outcome;
// callers are expected to translate Result into that event.
func (g *Graph) Run(ctx context.Context, state *wfstate.WorkflowState) *Result {
	noProgress := map[wfstate.Agent]int{}

	for {
		if err := ctx.Err(); err != nil {
			return g.cancelled(ctx, state)
		}

		if state.Iteration >= g.recursionLimit {
			return g.terminateLimit(state)
		}

		cmd := g.decide(ctx, state, noProgress)

		if cmd.isEnd() {
			state = applyUpdate(state, nil, cmd.Update)
			return &Result{Status: StatusOK, State: state}
		}

		if err := g.validateGoto(cmd.Goto); err != nil {
			return &Result{Status: StatusError, State: state, Err: err}
		}

		state = applyPreDispatchUpdate(state, cmd.Update)

		updates := g.dispatch(ctx, state, cmd.Goto)
		merged := mergeUpdates(updates)
		state = applyUpdate(state, cmd.Goto, merged)

		g.trackProgress(noProgress, cmd.Goto, updates)

		if g.checkpoint != nil {
			if err := g.checkpoint.Save(ctx, state.SessionID, state.Iteration, state, cmd); err != nil {
				g.log.Warn("checkpoint save failed", "session_id", state.SessionID, "iteration", state.Iteration, "err", err)
			}
		}
	}
}

// decide calls the supervisor unless the no-progress rule has already forced
// a route to responder for the node that just ran twice without progress.
func (g *Graph) decide(ctx context.Context, state *wfstate.WorkflowState, noProgress map[wfstate.Agent]int) *Command {
	if state.LastAgent != "" && noProgress[state.LastAgent] >= 2 {
		summary := fmt.Sprintf("%s made no progress across two consecutive transitions and was stopped; explain to the user that this step could not complete and summarize what was accomplished before it stalled.", state.LastAgent)
		return &Command{
			Goto:      []wfstate.Agent{wfstate.AgentResponder},
			Update:    &wfstate.Update{Instructions: &summary},
			Reasoning: fmt.Sprintf("%s made no progress across two consecutive transitions", state.LastAgent),
		}
	}

	c, err := g.supervisor(ctx, state, g.deps)
	if err != nil {
		g.log.Warn("supervisor decision failed, falling back to deterministic policy", "session_id", state.SessionID, "err", err)
		return g.fallbackDecision(state)
	}
	return c
}

// fallbackDecision implements spec §4.1's "on LLM failure, fall back to
// deterministic policy": dispatch the first fixed-order agent that has not
// yet run, or responder once all of them have.
func (g *Graph) fallbackDecision(state *wfstate.WorkflowState) *Command {
	order := []wfstate.Agent{
		wfstate.AgentResearch, wfstate.AgentArchitect, wfstate.AgentCodesmith,
		wfstate.AgentReviewFix, wfstate.AgentResponder,
	}
	for _, a := range order {
		if state.ExecutedAgents[a] == 0 {
			return &Command{Goto: []wfstate.Agent{a}, Reasoning: "deterministic fallback after supervisor failure"}
		}
	}
	return &Command{Goto: []wfstate.Agent{wfstate.AgentResponder}, Reasoning: "deterministic fallback, all agents already ran"}
}

func (g *Graph) validateGoto(goto_ []wfstate.Agent) error {
	if len(goto_) == 0 {
		return wfstate.NewError(string(wfstate.AgentSupervisor), wfstate.KindStateInvariant, false, errors.New("empty Command.Goto"))
	}
	seen := make(map[wfstate.Agent]bool, len(goto_))
	for _, a := range goto_ {
		if _, ok := g.nodes[a]; !ok {
			return wfstate.NewError(string(wfstate.AgentSupervisor), wfstate.KindStateInvariant, false, fmt.Errorf("unknown goto target %q", a))
		}
		if seen[a] {
			return wfstate.NewError(string(wfstate.AgentSupervisor), wfstate.KindStateInvariant, false, fmt.Errorf("duplicate goto target %q in parallel dispatch", a))
		}
		seen[a] = true
	}
	return nil
}

// dispatch runs the named nodes — sequentially for a single target,
// concurrently for a parallel dispatch — and collects their updates in
// Goto order regardless of completion order, per spec §4.5's deterministic
// merge requirement.
func (g *Graph) dispatch(ctx context.Context, state *wfstate.WorkflowState, goto_ []wfstate.Agent) []*wfstate.Update {
	if len(goto_) == 1 {
		u, err := g.runNode(ctx, goto_[0], state)
		if err != nil {
			u = &wfstate.Update{Errors: []wfstate.RecordedError{{
				Agent: goto_[0], Kind: wfstate.KindToolCallFailed, Message: err.Error(), Retriable: true, At: time.Now(),
			}}}
		}
		return []*wfstate.Update{u}
	}

	updates := make([]*wfstate.Update, len(goto_))
	var wg sync.WaitGroup
	for i, agent := range goto_ {
		wg.Add(1)
		go func(i int, agent wfstate.Agent) {
			defer wg.Done()
			u, err := g.runNode(ctx, agent, state)
			if err != nil {
				// A sibling's fatal error does not abort the others; it is
				// recorded as an error entry instead (spec §8.3).
				u = &wfstate.Update{Errors: []wfstate.RecordedError{{
					Agent: agent, Kind: wfstate.KindToolCallFailed, Message: err.Error(), Retriable: true, At: time.Now(),
				}}}
			}
			updates[i] = u
		}(i, agent)
	}
	wg.Wait()
	return updates
}

// graceContext derives a context that outlives parent's cancellation by
// grace: it is never cancelled by parent directly, but once parent is
// cancelled (or its deadline passes) a timer cancels the derived context
// after grace, giving an in-flight caller a bounded window to finish rather
// than being cut off mid-call. Cancelling the returned CancelFunc stops the
// timer and cancels immediately, so normal (uncancelled-parent) exits still
// release resources right away.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(grace, cancel)
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

func (g *Graph) runNode(ctx context.Context, agent wfstate.Agent, state *wfstate.WorkflowState) (*wfstate.Update, error) {
	node := g.nodes[agent]

	graced, stopGrace := graceContext(ctx, CancelGrace)
	defer stopGrace()

	nodeCtx, cancel := context.WithTimeout(graced, g.nodeBudget(agent))
	defer cancel()

	g.deps.Events.Publish(ctx, eventForAgentStart(agent, state.Instructions))

	update, err := node(nodeCtx, state.Clone(), g.deps)
	if err != nil {
		return nil, err
	}
	return update, nil
}

func (g *Graph) trackProgress(noProgress map[wfstate.Agent]int, dispatched []wfstate.Agent, updates []*wfstate.Update) {
	for i, agent := range dispatched {
		if updates[i].HasProgress() {
			noProgress[agent] = 0
		} else {
			noProgress[agent]++
		}
	}
}

func (g *Graph) terminateLimit(state *wfstate.WorkflowState) *Result {
	summary := fmt.Sprintf("workflow terminated after reaching the recursion limit (%d transitions); last agent dispatched was %q", g.recursionLimit, state.LastAgent)
	next := state.Clone()
	next.UserResponse = summary
	return &Result{Status: StatusLimit, State: next, Err: wfstate.ErrRecursionLimit}
}

func (g *Graph) cancelled(ctx context.Context, state *wfstate.WorkflowState) *Result {
	next := state.Clone()
	next.UserResponse = "workflow cancelled by client request"
	next.Errors = append(next.Errors, wfstate.RecordedError{
		Agent: state.LastAgent, Kind: wfstate.KindCancelled, Message: "cooperative cancel observed", Retriable: false, At: time.Now(),
	})
	return &Result{Status: StatusCancelled, State: next, Err: wfstate.ErrCancelled}
}

// nodeBudget returns the per-node wall-clock budget: a configured
// per-agent override, else the configured default, else the spec §4.2
// fallback (900s for code generation, 300s for everything else).
func (g *Graph) nodeBudget(agent wfstate.Agent) time.Duration {
	if d, ok := g.nodeTimeouts[agent]; ok && d > 0 {
		return d
	}
	if g.defaultNodeTimeout > 0 {
		return g.defaultNodeTimeout
	}
	if agent == wfstate.AgentCodesmith {
		return 900 * time.Second
	}
	return 300 * time.Second
}
