// Package jsonrpc serves the task manager over JSON-RPC 2.0 on HTTP, with
// Server-Sent Events for the streaming methods, and provides the matching client.
package jsonrpc

import (
	"bytes"
	"encoding/json"

	"github.com/austindbirch/harbor_agent/internal/a2a"
)

const Version = "2.0"

// A2A method names
const (
	MethodSend                = "tasks/send"
	MethodSendSubscribe       = "tasks/sendSubscribe"
	MethodResubscribe         = "tasks/resubscribe"
	MethodGet                 = "tasks/get"
	MethodCancel              = "tasks/cancel"
	MethodPushNotificationSet = "tasks/pushNotification/set"
	MethodPushNotificationGet = "tasks/pushNotification/get"
)

var knownMethods = map[string]bool{
	MethodSend:                true,
	MethodSendSubscribe:       true,
	MethodResubscribe:         true,
	MethodGet:                 true,
	MethodCancel:              true,
	MethodPushNotificationSet: true,
	MethodPushNotificationGet: true,
}

// Request is an inbound or outbound JSON-RPC call
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either a result or an error. A nil ID is written as null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *a2a.Error      `json:"error,omitempty"`
}

// rawResponse is the client-side view of a Response
type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *a2a.Error      `json:"error,omitempty"`
}

// validID accepts a missing id, null, a string or a number
func validID(id json.RawMessage) bool {
	id = bytes.TrimSpace(id)
	if len(id) == 0 || string(id) == "null" {
		return true
	}
	switch c := id[0]; {
	case c == '"':
		var s string
		return json.Unmarshal(id, &s) == nil
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		return json.Unmarshal(id, &n) == nil
	}
	return false
}

// methodLabel bounds the metric label set to the known methods
func methodLabel(method string) string {
	if knownMethods[method] {
		return method
	}
	return "unknown"
}
