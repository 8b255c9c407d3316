package a2a

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event is a task change published for live observation. The set of
// implementations is closed: TaskStatusUpdateEvent and TaskArtifactUpdateEvent.
type Event interface {
	// GetTaskID returns the id of the task that owns the event
	GetTaskID() string
	// IsFinal reports whether the event ends the task's live stream
	IsFinal() bool

	isEvent()
}

// TaskStatusUpdateEvent reports a status transition
type TaskStatusUpdateEvent struct {
	ID       string         `json:"id"`
	Status   TaskStatus     `json:"status"`
	Final    bool           `json:"final"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Err is set on the terminal event of a run that failed. Transports
	// render it as an error response instead of a result.
	Err *Error `json:"-"`
}

func (e *TaskStatusUpdateEvent) GetTaskID() string { return e.ID }
func (e *TaskStatusUpdateEvent) IsFinal() bool     { return e.Final }
func (*TaskStatusUpdateEvent) isEvent()            {}

// TaskArtifactUpdateEvent reports a new or extended artifact
type TaskArtifactUpdateEvent struct {
	ID       string         `json:"id"`
	Artifact Artifact       `json:"artifact"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (e *TaskArtifactUpdateEvent) GetTaskID() string { return e.ID }
func (e *TaskArtifactUpdateEvent) IsFinal() bool     { return false }
func (*TaskArtifactUpdateEvent) isEvent()            {}

var (
	_ Event = (*TaskStatusUpdateEvent)(nil)
	_ Event = (*TaskArtifactUpdateEvent)(nil)
)

// ErrUnknownEvent is returned by UnmarshalEvent for payloads that are neither
// a status nor an artifact update.
var ErrUnknownEvent = errors.New("unknown event payload")

// UnmarshalEvent decodes a serialized event, telling the variants apart by
// whether they carry a status or an artifact.
func UnmarshalEvent(data []byte) (Event, error) {
	var probe struct {
		Status   json.RawMessage `json:"status"`
		Artifact json.RawMessage `json:"artifact"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch {
	case probe.Status != nil:
		var ev TaskStatusUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode status event: %w", err)
		}
		return &ev, nil
	case probe.Artifact != nil:
		var ev TaskArtifactUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode artifact event: %w", err)
		}
		return &ev, nil
	}
	return nil, ErrUnknownEvent
}
