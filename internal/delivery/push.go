package delivery

import "encoding/json"

// Push is one webhook delivery: a signed task snapshot bound for a
// caller-registered URL. It is the NSQ message body when pushes are queued.
type Push struct {
	DeliveryID    string            `json:"delivery_id"`
	TaskID        string            `json:"task_id"`
	State         string            `json:"state"` // task state the snapshot was taken in
	URL           string            `json:"url"`
	Token         string            `json:"token,omitempty"`         // caller token echoed back in a header
	Authorization string            `json:"authorization,omitempty"` // "Bearer <jwt>"
	Body          json.RawMessage   `json:"body"`
	PublishedAt   string            `json:"published_at"` // RFC3339
	TraceHeaders  map[string]string `json:"trace_headers,omitempty"`
}
