package eventstream

import "time"

func envelope(typ Type) Event {
	return Event{Type: typ, Timestamp: time.Now()}
}

func Welcome() Event { return envelope(TypeWelcome) }

func SessionInitialized(sessionID, workspacePath string) Event {
	e := envelope(TypeSessionInitialized)
	e.SessionInit = &SessionInitializedPayload{SessionID: sessionID, WorkspacePath: workspacePath}
	return e
}

func SupervisorDecision(next []string, reasoning string) Event {
	e := envelope(TypeSupervisorDecision)
	e.SupervisorDecision = &SupervisorDecisionPayload{Next: next, Reasoning: reasoning}
	return e
}

func AgentThinking(agent, message string) Event {
	e := envelope(TypeAgentThinking)
	e.AgentThinking = &AgentMessagePayload{Agent: agent, Message: message}
	return e
}

func AgentProgress(agent, message string) Event {
	e := envelope(TypeAgentProgress)
	e.AgentProgress = &AgentMessagePayload{Agent: agent, Message: message}
	return e
}

func AgentToolStart(agent, server, tool string) Event {
	e := envelope(TypeAgentToolStart)
	e.AgentToolStart = &AgentToolStartPayload{Agent: agent, Server: server, Tool: tool}
	return e
}

func AgentToolComplete(agent, server, tool string, ok bool, durationMS int64) Event {
	e := envelope(TypeAgentToolComplete)
	e.AgentToolComplete = &AgentToolCompletePayload{Agent: agent, Server: server, Tool: tool, OK: ok, DurationMS: durationMS}
	return e
}

func AgentComplete(agent, summary string) Event {
	e := envelope(TypeAgentComplete)
	e.AgentComplete = &AgentCompletePayload{Agent: agent, Summary: summary}
	return e
}

func FileWritten(path string, bytes int64) Event {
	e := envelope(TypeFileWritten)
	e.FileWritten = &FileWrittenPayload{Path: path, Bytes: bytes}
	return e
}

func FileOverwritten(path string) Event {
	e := envelope(TypeFileOverwritten)
	e.FileOverwritten = &FileOverwrittenPayload{Path: path}
	return e
}

func ApprovalRequest(correlationID, actionType, payload string) Event {
	e := envelope(TypeApprovalRequest)
	e.ApprovalRequest = &ApprovalRequestPayload{CorrelationID: correlationID, ActionType: actionType, Payload: payload}
	return e
}

func WorkflowComplete(summary string, qualityScore *float64) Event {
	e := envelope(TypeWorkflowComplete)
	e.WorkflowComplete = &WorkflowCompletePayload{Summary: summary, QualityScore: qualityScore}
	return e
}

func Err(kind, message, where string, retriable bool) Event {
	e := envelope(TypeError)
	e.Error = &ErrorPayload{Kind: kind, Message: message, Where: where, Retriable: retriable}
	return e
}
