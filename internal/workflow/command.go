package workflow

import "github.com/forgeflow/conductor/internal/wfstate"

// END is the sentinel goto target that terminates a workflow run. It is not
// a real node and must never appear in Graph.nodes.
const END wfstate.Agent = "END"

// Command is what the supervisor returns after inspecting WorkflowState: the
// node(s) to dispatch next and the state update to apply before they run.
// Goto holds more than one entry only for a parallel dispatch.
type Command struct {
	Goto      []wfstate.Agent
	Update    *wfstate.Update
	Reasoning string
}

func (c *Command) isEnd() bool {
	for _, g := range c.Goto {
		if g == END {
			return true
		}
	}
	return false
}
