package agent

import (
	"context"
	"encoding/json"
	"iter"
	"strings"

	"github.com/austindbirch/harbor_agent/internal/llm"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

const SystemInstruction = `You are a specialized assistant for currency conversions.
Your sole purpose is to use the exchange rate tool to answer questions about currency exchange rates.
If the user asks about anything other than currency conversion or exchange rates,
politely state that you cannot help with that topic and can only assist with currency-related queries.
Do not attempt to answer unrelated questions or use tools for other purposes.

Here are some examples of questions you can answer:
- What is the exchange rate from USD to EUR?
- How much is 100 USD in JPY?
- What is the exchange rate for converting Canadian dollars to British pounds?

For each question, determine if:
1. You have all the information needed to call the exchange rate tool
2. You need to ask the user for more information

If you need more information, ask the user specific questions.
If you have all the information, call the exchange rate tool and respond with the result.`

const (
	LookingUpMessage  = "Looking up the exchange rates..."
	ProcessingMessage = "Processing the exchange rates..."
)

// SupportedContentTypes are the output modes of the currency agent
var SupportedContentTypes = []string{"text", "text/plain"}

// Phrases in an answer that mean the model is asking the user a question
var needsInputPhrases = []string{
	"which currency",
	"what currency",
	"specify",
	"need more information",
}

// RateLookup answers get_exchange_rate. *exchange.Client satisfies it.
type RateLookup interface {
	Rate(ctx context.Context, from, to, date string) string
}

// CurrencyAgent answers currency conversion questions with an LLM and an exchange rate tool
type CurrencyAgent struct {
	llm       llm.Completer
	rates     RateLookup
	sessions  *SessionStore
	maxRounds int
}

var _ Capability = (*CurrencyAgent)(nil)

func NewCurrencyAgent(completer llm.Completer, rates RateLookup, sessions *SessionStore, maxToolRounds int) *CurrencyAgent {
	if maxToolRounds <= 0 {
		maxToolRounds = 5
	}
	return &CurrencyAgent{llm: completer, rates: rates, sessions: sessions, maxRounds: maxToolRounds}
}

func (a *CurrencyAgent) SupportedContentTypes() []string {
	return SupportedContentTypes
}

func (a *CurrencyAgent) tools() []llm.Tool {
	return []llm.Tool{{
		ToolDef: llm.ToolDef{
			Name:        "get_exchange_rate",
			Description: "Get the exchange rate between two currencies",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"currency_from": map[string]any{"type": "string", "description": "The currency to convert from (e.g., 'USD')"},
					"currency_to":   map[string]any{"type": "string", "description": "The currency to convert to (e.g., 'EUR')"},
					"currency_date": map[string]any{"type": "string", "description": "The date for the exchange rate or 'latest'"},
				},
			},
		},
		Call: func(ctx context.Context, raw json.RawMessage) string {
			var args struct {
				From string `json:"currency_from"`
				To   string `json:"currency_to"`
				Date string `json:"currency_date"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return `{"error": "Invalid tool arguments."}`
			}
			return a.rates.Rate(ctx, args.From, args.To, args.Date)
		},
	}}
}

// Invoke appends query to the session's memory, runs the model and classifies the answer
func (a *CurrencyAgent) Invoke(ctx context.Context, query, sessionID string) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "agent.invoke", tracing.AttrSessionID.String(sessionID))
	defer span.End()

	sess, release := a.sessions.Acquire(sessionID)
	defer release()

	transcript := append(sess.History, llm.User(query))
	// Tool traffic stays out of memory; only the turn itself is remembered.
	answer, _, err := llm.RunTools(ctx, a.llm, transcript, a.tools(), a.maxRounds)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	sess.History = append(transcript, llm.Assistant(answer))

	res := classify(answer)
	logging.WithContext(ctx).WithSession(sessionID).WithFields(map[string]any{
		"require_user_input": res.RequireUserInput,
		"history":            len(sess.History),
	}).Debug("agent answered")
	return res, nil
}

// Stream mirrors Invoke with two progress updates around the model call
func (a *CurrencyAgent) Stream(ctx context.Context, query, sessionID string) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		if !yield(Result{Content: LookingUpMessage}, nil) {
			return
		}
		res, err := a.Invoke(ctx, query, sessionID)
		if err != nil {
			yield(Result{}, err)
			return
		}
		if !yield(Result{Content: ProcessingMessage}, nil) {
			return
		}
		yield(res, nil)
	}
}

func classify(answer string) Result {
	lower := strings.ToLower(answer)
	for _, phrase := range needsInputPhrases {
		if strings.Contains(lower, phrase) {
			return Result{RequireUserInput: true, Content: answer}
		}
	}
	return Result{IsTaskComplete: true, Content: answer}
}
