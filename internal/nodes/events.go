package nodes

import (
	"time"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/wfstate"
)

func startEvent(agent wfstate.Agent, server, tool string) eventstream.Event {
	return eventstream.AgentToolStart(string(agent), server, tool)
}

func completeEvent(agent wfstate.Agent, server, tool string, ok bool, d time.Duration) eventstream.Event {
	return eventstream.AgentToolComplete(string(agent), server, tool, ok, d.Milliseconds())
}

func thinkingEvent(agent wfstate.Agent, prompt string) eventstream.Event {
	msg := prompt
	if len(msg) > 160 {
		msg = msg[:160] + "…"
	}
	return eventstream.AgentThinking(string(agent), msg)
}

func completeLLMEvent(agent wfstate.Agent, content string) eventstream.Event {
	summary := content
	if len(summary) > 200 {
		summary = summary[:200] + "…"
	}
	return eventstream.AgentComplete(string(agent), summary)
}
