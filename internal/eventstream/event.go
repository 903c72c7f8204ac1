// Package eventstream delivers ordered, typed notifications to a single
// external subscriber per workflow (spec §4.6). Delivery is non-blocking: a
// slow subscriber causes the oldest agent_thinking-class events to be
// dropped first, never terminal-class events.
package eventstream

import "time"

// Type discriminates the tagged union described in spec §6.3.
type Type string

const (
	TypeWelcome            Type = "welcome"
	TypeSessionInitialized Type = "session_initialized"
	TypeSupervisorDecision Type = "supervisor_decision"
	TypeAgentThinking      Type = "agent_thinking"
	TypeAgentProgress      Type = "agent_progress"
	TypeAgentToolStart     Type = "agent_tool_start"
	TypeAgentToolComplete  Type = "agent_tool_complete"
	TypeAgentComplete      Type = "agent_complete"
	TypeFileWritten        Type = "file_written"
	TypeFileOverwritten    Type = "file_overwritten"
	TypeApprovalRequest    Type = "approval_request"
	TypeWorkflowComplete   Type = "workflow_complete"
	TypeError              Type = "error"
)

// droppable reports whether events of this type may be discarded under
// backpressure. Only agent_thinking-class events (low-value, high-volume
// narration) are droppable; everything else — including agent_progress,
// which can carry tool output a user is waiting on — is retained.
func (t Type) droppable() bool {
	return t == TypeAgentThinking
}

func (t Type) terminal() bool {
	return t == TypeWorkflowComplete || t == TypeError
}

// Event is one envelope published to a workflow's subscriber. Exactly one of
// the payload fields should be populated for a given Type, mirroring the
// discriminated-union style of pkg/models/agent_event.go in the source this
// package is adapted from.
type Event struct {
	SessionID string    `json:"session_id"`
	Sequence  uint64    `json:"sequence_number"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`

	SupervisorDecision *SupervisorDecisionPayload `json:"supervisor_decision,omitempty"`
	AgentThinking      *AgentMessagePayload       `json:"agent_thinking,omitempty"`
	AgentProgress      *AgentMessagePayload       `json:"agent_progress,omitempty"`
	AgentToolStart     *AgentToolStartPayload     `json:"agent_tool_start,omitempty"`
	AgentToolComplete  *AgentToolCompletePayload  `json:"agent_tool_complete,omitempty"`
	AgentComplete      *AgentCompletePayload      `json:"agent_complete,omitempty"`
	FileWritten        *FileWrittenPayload        `json:"file_written,omitempty"`
	FileOverwritten    *FileOverwrittenPayload    `json:"file_overwritten,omitempty"`
	ApprovalRequest    *ApprovalRequestPayload    `json:"approval_request,omitempty"`
	SessionInit        *SessionInitializedPayload `json:"session_initialized,omitempty"`
	WorkflowComplete   *WorkflowCompletePayload   `json:"workflow_complete,omitempty"`
	Error              *ErrorPayload              `json:"error,omitempty"`
}

type SupervisorDecisionPayload struct {
	Next      []string `json:"next"`
	Reasoning string   `json:"reasoning"`
}

type AgentMessagePayload struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

type AgentToolStartPayload struct {
	Agent  string `json:"agent"`
	Server string `json:"server"`
	Tool   string `json:"tool"`
}

type AgentToolCompletePayload struct {
	Agent      string `json:"agent"`
	Server     string `json:"server"`
	Tool       string `json:"tool"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
}

type AgentCompletePayload struct {
	Agent   string `json:"agent"`
	Summary string `json:"summary"`
}

type FileWrittenPayload struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

type FileOverwrittenPayload struct {
	Path string `json:"path"`
}

type ApprovalRequestPayload struct {
	CorrelationID string `json:"correlation_id"`
	ActionType    string `json:"action_type"`
	Payload       string `json:"payload"`
}

type SessionInitializedPayload struct {
	SessionID     string `json:"session_id"`
	WorkspacePath string `json:"workspace_path"`
}

type WorkflowCompletePayload struct {
	QualityScore *float64 `json:"quality_score,omitempty"`
	Summary      string   `json:"summary"`
}

type ErrorPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Where     string `json:"where"`
	Retriable bool   `json:"retriable"`
}
