package delivery

import "time"

const DLQType = "a2a.push.dlq"

// DeadLetter wraps a push that failed its single attempt. Retrying is left
// to whoever consumes the DLQ topic.
type DeadLetter struct {
	Type       string `json:"type"`    // "a2a.push.dlq"
	Version    string `json:"version"` // schema version
	At         string `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason     string `json:"reason"`
	HTTPStatus int    `json:"http_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	Push       Push   `json:"push"`
}

func NewDeadLetter(p Push, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().UTC().Format(time.RFC3339Nano),
		Reason:     reason,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Push:       p,
	}
}
