package jsonrpc

import (
	"encoding/json"
	"net/http"
)

// AgentCardPath is where agents publish their card
const AgentCardPath = "/.well-known/agent.json"

type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// AgentCard describes the agent to prospective callers
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes"`
	DefaultOutputModes []string          `json:"defaultOutputModes"`
	Skills             []AgentSkill      `json:"skills"`
}

// CurrencyAgentCard is the card served by agentd
func CurrencyAgentCard(url string, pushEnabled bool, modes []string) AgentCard {
	return AgentCard{
		Name:        "Currency Agent",
		Description: "Helps with exchange rates for currencies",
		URL:         url,
		Version:     "1.0.0",
		Capabilities: AgentCapabilities{
			Streaming:         true,
			PushNotifications: pushEnabled,
		},
		DefaultInputModes:  modes,
		DefaultOutputModes: modes,
		Skills: []AgentSkill{{
			ID:          "convert_currency",
			Name:        "Currency Exchange Rates Tool",
			Description: "Helps with exchange values between various currencies",
			Tags:        []string{"currency conversion", "currency exchange"},
			Examples:    []string{"What is exchange rate between USD and GBP?"},
		}},
	}
}

// AgentCardHandler serves card as JSON
func AgentCardHandler(card AgentCard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(card)
	}
}
