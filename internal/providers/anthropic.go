// Package providers implements concrete agentadapter.LLMProvider backends.
// Unlike the streaming, UI-facing providers this package's implementations
// are modeled on, these are one-shot: every node and the supervisor want a
// complete response before moving on, never a token stream to forward to a
// user-facing terminal.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgeflow/conductor/internal/agentadapter"
	"github.com/forgeflow/conductor/internal/wfstate"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// AnthropicProvider implements agentadapter.LLMProvider over Claude models.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// NewAnthropicProvider builds a provider from config, defaulting the model
// to claude-sonnet-4 and max tokens to 4096 when unset.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsStructuredOutput() bool { return false }

// Complete sends one blocking Messages.New request and normalizes the
// response. Claude has no native JSON-schema-constrained decoding mode as of
// this client, so req.Schema is folded into the system prompt as an
// instruction; the adapter layer validates the result against the schema
// regardless (agentadapter.InvokeStructured never trusts the provider).
func (p *AnthropicProvider) Complete(ctx context.Context, req *agentadapter.CompletionRequest) (*agentadapter.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	system := req.System
	if len(req.Schema) > 0 {
		system = fmt.Sprintf("%s\n\nRespond with JSON only, matching this schema exactly:\n%s", system, string(req.Schema))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.User))},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicError(err)
	}

	var text strings.Builder
	var toolCalls []wfstate.RequestedToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			input, _ := json.Marshal(tu.Input)
			toolCalls = append(toolCalls, wfstate.RequestedToolCall{Tool: tu.Name, Arguments: input})
		}
	}

	return &agentadapter.CompletionResult{
		Content:      text.String(),
		ToolCalls:    toolCalls,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		FinishReason: string(msg.StopReason),
	}, nil
}

func convertTools(specs []agentadapter.ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(s.InputSchema, &schema); err != nil {
			continue
		}
		tp := anthropic.ToolUnionParamOfTool(schema, s.Name)
		if tp.OfTool != nil {
			tp.OfTool.Description = anthropic.String(s.Description)
		}
		out = append(out, tp)
	}
	return out
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic: status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
