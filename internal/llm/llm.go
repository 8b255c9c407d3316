// Package llm wraps a chat-completion backend with tool calling.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// Message is one entry of a chat transcript
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func System(content string) Message    { return Message{Role: "system", Content: content} }
func User(content string) Message      { return Message{Role: "user", Content: content} }
func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

// ToolCall is a function invocation requested by the model
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

// ToolDef describes a callable function to the model
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON schema
}

// Tool is a ToolDef plus the code that answers it. Call returns the text the
// model sees; tool failures are reported in that text rather than as errors.
type Tool struct {
	ToolDef
	Call func(ctx context.Context, args json.RawMessage) string
}

// Completer produces the next assistant message for a transcript
type Completer interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDef) (Message, error)
}

var ErrTooManyToolRounds = errors.New("model kept calling tools")

// RunTools drives the completion loop: while the model asks for tools, run
// them and feed the results back, for at most maxRounds rounds. It returns the
// final answer and every message added to the transcript, answer included.
func RunTools(ctx context.Context, c Completer, transcript []Message, tools []Tool, maxRounds int) (string, []Message, error) {
	defs := make([]ToolDef, len(tools))
	byName := make(map[string]Tool, len(tools))
	for i, t := range tools {
		defs[i] = t.ToolDef
		byName[t.Name] = t
	}

	var added []Message
	for round := 0; ; round++ {
		msg, err := c.Complete(ctx, slices.Concat(transcript, added), defs)
		if err != nil {
			return "", added, fmt.Errorf("chat completion: %w", err)
		}
		added = append(added, msg)
		if len(msg.ToolCalls) == 0 {
			return msg.Content, added, nil
		}
		if round >= maxRounds {
			return "", added, fmt.Errorf("%w after %d rounds", ErrTooManyToolRounds, maxRounds)
		}

		for _, call := range msg.ToolCalls {
			added = append(added, Message{
				Role:       "tool",
				Content:    runTool(ctx, byName, call),
				ToolCallID: call.ID,
			})
		}
	}
}

func runTool(ctx context.Context, tools map[string]Tool, call ToolCall) string {
	ctx, span := tracing.StartSpan(ctx, "llm.tool", attribute.String("tool.name", call.Name))
	defer span.End()

	t, ok := tools[call.Name]
	if !ok {
		logging.WithContext(ctx).WithField("tool", call.Name).Warn("model called an unknown tool")
		b, _ := json.Marshal(map[string]string{"error": "unknown tool " + call.Name})
		return string(b)
	}
	args := json.RawMessage(call.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return t.Call(ctx, args)
}
