package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forgeflow/conductor/internal/agentadapter"
	"github.com/forgeflow/conductor/internal/wfstate"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// OpenAIProvider implements agentadapter.LLMProvider over GPT models, used
// when llm_provider.default or an llm_provider.per_agent entry names an
// openai account.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: openai API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// SupportsStructuredOutput reports true: the Chat Completions API accepts a
// response_format of json_schema, which this provider uses whenever
// req.Schema is set.
func (p *OpenAIProvider) SupportsStructuredOutput() bool { return true }

func (p *OpenAIProvider) Complete(ctx context.Context, req *agentadapter.CompletionRequest) (*agentadapter.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		Tools:       convertOpenAITools(req.Tools),
	}
	if len(req.Schema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(req.Schema, &schema); err == nil {
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "structured_output",
					Schema: schemaMarshaler{schema},
					Strict: true,
				},
			}
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	var toolCalls []wfstate.RequestedToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, wfstate.RequestedToolCall{Tool: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)})
	}

	return &agentadapter.CompletionResult{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func convertOpenAITools(specs []agentadapter.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		var params map[string]any
		if err := json.Unmarshal(s.InputSchema, &params); err != nil {
			continue
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// schemaMarshaler adapts a decoded JSON Schema map to go-openai's
// json.Marshaler-based ResponseFormatJSONSchema.Schema field.
type schemaMarshaler struct {
	schema map[string]any
}

func (s schemaMarshaler) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.schema)
}
