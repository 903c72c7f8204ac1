package workflow

import "github.com/forgeflow/conductor/internal/wfstate"

// mergeUpdates combines the updates returned by a parallel dispatch's
// siblings into one, per spec §4.5: append-only containers concatenate in
// deterministic insertion order (the order the siblings are listed in
// Command.Goto); everything else is last-writer-wins, where "later" means
// later in that same order. The supervisor is responsible for never
// proposing a parallel plan whose siblings write the same scalar slot
// (spec §4.1 step 3); mergeUpdates does not second-guess that, it only
// implements the merge mechanics.
func mergeUpdates(updates []*wfstate.Update) *wfstate.Update {
	merged := &wfstate.Update{}
	for _, u := range updates {
		if u == nil {
			continue
		}
		merged.Messages = append(merged.Messages, u.Messages...)
		merged.ResearchContext = append(merged.ResearchContext, u.ResearchContext...)
		merged.GeneratedFiles = append(merged.GeneratedFiles, u.GeneratedFiles...)
		merged.AccumulatedResults = append(merged.AccumulatedResults, u.AccumulatedResults...)
		merged.Errors = append(merged.Errors, u.Errors...)

		if u.Instructions != nil {
			merged.Instructions = u.Instructions
		}
		if u.Architecture != nil {
			merged.Architecture = u.Architecture
		}
		if u.ReviewReport != nil {
			merged.ReviewReport = u.ReviewReport
		}
		if u.UserResponse != nil {
			merged.UserResponse = u.UserResponse
		}
		if u.CanEndWorkflow != nil {
			merged.CanEndWorkflow = u.CanEndWorkflow
		}
	}
	return merged
}

// foldUpdate copies every content field of u into next. It never touches the
// per-hop bookkeeping (Iteration, LastAgent, ExecutedAgents) — applyUpdate is
// the only caller that owns those, since a pre-dispatch fold (see
// applyPreDispatchUpdate) must not count as the hop itself.
func foldUpdate(next *wfstate.WorkflowState, u *wfstate.Update) {
	if u == nil {
		return
	}

	next.Messages = append(next.Messages, u.Messages...)
	next.ResearchContext = append(next.ResearchContext, u.ResearchContext...)
	next.GeneratedFiles = append(next.GeneratedFiles, u.GeneratedFiles...)
	next.AccumulatedResults = append(next.AccumulatedResults, u.AccumulatedResults...)
	next.Errors = append(next.Errors, u.Errors...)

	if u.Instructions != nil {
		next.Instructions = *u.Instructions
	}
	if u.Architecture != nil {
		next.Architecture = u.Architecture
	}
	if u.ReviewReport != nil {
		next.ReviewReport = u.ReviewReport
	}
	if u.UserResponse != nil {
		next.UserResponse = *u.UserResponse
	}
	if u.CanEndWorkflow != nil {
		next.CanEndWorkflow = *u.CanEndWorkflow
	}
}

// applyUpdate folds an Update into the canonical state, returning the new
// state. The input state is never mutated in place (nodes only ever see a
// Clone), so applyUpdate is the single point where committed state changes.
// dispatched lists every agent run this hop (more than one only for a
// parallel dispatch); LastAgent is set to the last one in that list.
func applyUpdate(state *wfstate.WorkflowState, dispatched []wfstate.Agent, u *wfstate.Update) *wfstate.WorkflowState {
	next := state.Clone()
	next.Iteration = state.Iteration + 1
	for _, agent := range dispatched {
		next.LastAgent = agent
		next.ExecutedAgents[agent]++
	}
	foldUpdate(next, u)
	return next
}

// applyPreDispatchUpdate folds a Command's Update into state before the
// dispatched node(s) run, per command.go's doc comment: "the state update to
// apply before they run" (e.g. the supervisor's per-hop Instructions, or the
// no-progress route's failure summary). Unlike applyUpdate, it does not bump
// Iteration/LastAgent/ExecutedAgents — that bookkeeping stays exclusive to
// the post-dispatch applyUpdate call for this same hop.
func applyPreDispatchUpdate(state *wfstate.WorkflowState, u *wfstate.Update) *wfstate.WorkflowState {
	if u == nil {
		return state
	}
	next := state.Clone()
	foldUpdate(next, u)
	return next
}
