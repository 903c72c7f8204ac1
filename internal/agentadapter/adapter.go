package agentadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// RetryConfig bounds how hard the adapter will retry a single invocation
// against its provider before giving up and surfacing the error to the node.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig mirrors the per-invocation retry budget the rest of the
// system assumes (spec §4.4): one initial attempt plus up to three retries,
// capped exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
	}
}

// Adapter implements workflow.Provider over one concrete LLMProvider,
// translating wfstate.AgentInvocation into CompletionRequest/Result and
// retrying transient failures with exponential backoff.
type Adapter struct {
	provider LLMProvider
	retry    RetryConfig
}

// New wires a concrete LLMProvider (internal/providers) behind the Invoke /
// InvokeStructured surface nodes and the supervisor depend on.
func New(provider LLMProvider, retry RetryConfig) *Adapter {
	if retry.MaxRetries <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Adapter{provider: provider, retry: retry}
}

// Invoke sends one unconstrained completion request.
func (a *Adapter) Invoke(ctx context.Context, inv *wfstate.AgentInvocation) (*wfstate.LLMResponse, error) {
	result, err := a.completeWithRetry(ctx, toRequest(inv, nil))
	if err != nil {
		return nil, fmt.Errorf("agentadapter: %s invoke via %s: %w", inv.Agent, a.provider.Name(), err)
	}
	return &wfstate.LLMResponse{
		Content:      result.Content,
		ToolCalls:    result.ToolCalls,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		FinishReason: result.FinishReason,
	}, nil
}

// InvokeStructured sends a schema-constrained completion request and
// validates the response against schema regardless of whether the provider
// claims native structured-output support — the provider's compliance is
// advisory, not trusted (spec §4.2's "validated defensively" requirement).
func (a *Adapter) InvokeStructured(ctx context.Context, inv *wfstate.AgentInvocation, schema json.RawMessage) (json.RawMessage, error) {
	result, err := a.completeWithRetry(ctx, toRequest(inv, schema))
	if err != nil {
		return nil, fmt.Errorf("agentadapter: %s invoke_structured via %s: %w", inv.Agent, a.provider.Name(), err)
	}

	raw := json.RawMessage(result.Content)
	if err := validateAgainstSchema(schema, raw); err != nil {
		return nil, fmt.Errorf("agentadapter: %s structured output failed schema validation: %w", inv.Agent, err)
	}
	return raw, nil
}

func toRequest(inv *wfstate.AgentInvocation, schema json.RawMessage) *CompletionRequest {
	return &CompletionRequest{
		System:      inv.PromptSystem,
		User:        inv.PromptUser,
		Temperature: inv.Temperature,
		MaxTokens:   inv.MaxTokens,
		Schema:      schema,
	}
}

// completeWithRetry retries transient provider errors with capped
// exponential backoff, grounded on the teacher's failover orchestrator retry
// loop. Unlike the teacher, there is no multi-provider failover here — one
// Adapter wraps exactly one provider; failover across providers is a
// deployment-time choice (llm_provider.per_agent in the config), not a
// runtime concern the adapter owns.
func (a *Adapter) completeWithRetry(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	backoff := a.retry.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= a.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := a.provider.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetriable(err) || attempt == a.retry.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > a.retry.MaxBackoff {
				backoff = a.retry.MaxBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// isRetriable classifies a provider error by message content rather than by
// a provider-specific error type, since providers in internal/providers wrap
// two unrelated SDKs that don't share an error hierarchy.
func isRetriable(err error) bool {
	switch classifyError(err) {
	case "rate_limit", "timeout", "server_error":
		return true
	default:
		return false
	}
}

// classifyError buckets a provider error for retry and logging purposes.
func classifyError(err error) string {
	if err == nil {
		return "unknown"
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return "timeout"
	case strings.Contains(s, "rate limit") || strings.Contains(s, "rate_limit") || strings.Contains(s, "429"):
		return "rate_limit"
	case strings.Contains(s, "unauthorized") || strings.Contains(s, "invalid api key") || strings.Contains(s, "401") || strings.Contains(s, "403"):
		return "auth"
	case strings.Contains(s, "quota") || strings.Contains(s, "billing") || strings.Contains(s, "402"):
		return "billing"
	case strings.Contains(s, "internal server") || strings.Contains(s, "502") || strings.Contains(s, "503") || strings.Contains(s, "504"):
		return "server_error"
	default:
		return "unknown"
	}
}

func validateAgainstSchema(schemaDoc, instance json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline.json", bytes.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	compiled, err := compiler.Compile("inline.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("decode instance: %w", err)
	}
	return compiled.Validate(v)
}
