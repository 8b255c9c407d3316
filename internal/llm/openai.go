package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_agent/internal/config"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// OpenAI is a Completer backed by the OpenAI chat completions API
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds a client from cfg. An API key is required.
func NewOpenAI(cfg config.LLM) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAI{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

func (o *OpenAI) Complete(ctx context.Context, messages []Message, tools []ToolDef) (Message, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.complete",
		attribute.String("llm.model", o.model),
		attribute.Int("llm.messages", len(messages)),
	)
	defer span.End()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Message{}, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, errors.New("openai returned no choices")
	}

	choice := resp.Choices[0]
	out := Message{Role: "assistant", Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	span.SetAttributes(
		attribute.String("llm.finish_reason", string(choice.FinishReason)),
		attribute.Int("llm.tool_calls", len(out.ToolCalls)),
		attribute.Int64("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int64("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)},
					ToolCalls: calls,
				},
			})
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func toOpenAITools(tools []ToolDef) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}
