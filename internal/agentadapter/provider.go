// Package agentadapter implements the Agent Adapter: a uniform async facade
// over heterogeneous LLM providers (spec §4.4). Concrete providers live in
// internal/providers and only need to satisfy LLMProvider.
package agentadapter

import (
	"context"
	"encoding/json"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// LLMProvider is the interface every concrete backend (Anthropic, OpenAI,
// ...) implements. Implementations must be safe for concurrent use: the
// adapter may call Complete for several agents' invocations at once.
type LLMProvider interface {
	// Complete sends one request and returns the full response (the adapter
	// owns streaming-to-caller concerns; providers return a single result).
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)

	// Name identifies the provider for logging, metrics, and per-agent config.
	Name() string

	// SupportsStructuredOutput reports whether the provider can be asked to
	// constrain its output to a JSON schema natively. When false, the
	// adapter still accepts invoke_structured calls but relies entirely on
	// the provider emitting valid JSON in CompletionResult.Content, which is
	// then schema-validated before being handed back.
	SupportsStructuredOutput() bool
}

// CompletionRequest is the normalized request passed to a provider.
type CompletionRequest struct {
	Model       string
	System      string
	User        string
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int

	// Schema, when non-nil, asks the provider for JSON-schema-constrained
	// output (used exclusively by InvokeStructured).
	Schema json.RawMessage
}

// ToolSpec describes one tool the provider may request by name.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// CompletionResult is the normalized response from a provider.
type CompletionResult struct {
	Content      string
	ToolCalls    []wfstate.RequestedToolCall
	InputTokens  int
	OutputTokens int
	FinishReason string
}
