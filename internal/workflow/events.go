package workflow

import (
	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
)

// eventForAgentStart builds the agent_thinking event published the instant a
// node is dispatched, carrying the instructions the supervisor just wrote
// for it.
func eventForAgentStart(agent wfstate.Agent, instructions string) eventstream.Event {
	msg := instructions
	if msg == "" {
		msg = "dispatched with no explicit instructions"
	}
	return eventstream.AgentThinking(string(agent), msg)
}
