package a2a

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// TaskState is the lifecycle state of a task
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled" // reserved, never produced by the manager
	TaskStateFailed        TaskState = "failed"
	TaskStateUnknown       TaskState = "unknown"
)

// IsTerminal reports whether no further transitions are allowed from s
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	}
	return false
}

// rank orders states for the monotonicity check. All terminal states share the top rank.
func (s TaskState) rank() int {
	switch s {
	case TaskStateSubmitted:
		return 0
	case TaskStateWorking:
		return 1
	case TaskStateInputRequired:
		return 2
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return 3
	}
	return -1
}

// CanTransition reports whether a task may move from one state to another.
// States only move forward, except input-required which may go back to working
// when the caller supplies the missing information.
func CanTransition(from, to TaskState) bool {
	if from.IsTerminal() {
		return false
	}
	if from == TaskStateInputRequired && to == TaskStateWorking {
		return true
	}
	if to.rank() < 0 {
		return false
	}
	return to.rank() >= from.rank()
}

// Role identifies the author of a message
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartType tags the content carried by a Part
type PartType string

const (
	PartTypeText PartType = "text"
	PartTypeFile PartType = "file"
	PartTypeData PartType = "data"
)

// FileContent is the payload of a file part. Exactly one of Bytes or URI is set.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"` // base64
	URI      string `json:"uri,omitempty"`
}

// Part is one content segment of a message or artifact
type Part struct {
	Type     PartType       `json:"type"`
	Text     string         `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewTextPart returns a text part
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

func (p Part) clone() Part {
	out := p
	if p.File != nil {
		f := *p.File
		out.File = &f
	}
	out.Data = maps.Clone(p.Data)
	out.Metadata = maps.Clone(p.Metadata)
	return out
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = p.clone()
	}
	return out
}

// Message is a single conversational turn
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewAgentTextMessage builds an agent message with a single text part
func NewAgentTextMessage(text string) *Message {
	return &Message{Role: RoleAgent, Parts: []Part{NewTextPart(text)}}
}

// Text joins the text parts of m with newlines. A nil message has no text.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Clone returns a deep copy of m
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	return &Message{
		Role:     m.Role,
		Parts:    cloneParts(m.Parts),
		Metadata: maps.Clone(m.Metadata),
	}
}

// TaskStatus is the current state of a task plus the message attached at the transition
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Clone returns a deep copy of s
func (s TaskStatus) Clone() TaskStatus {
	s.Message = s.Message.Clone()
	return s
}

// Artifact is a piece of output produced for a task
type Artifact struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Index       int            `json:"index"`
	Append      *bool          `json:"append,omitempty"`
	LastChunk   *bool          `json:"lastChunk,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of a
func (a Artifact) Clone() Artifact {
	out := a
	out.Parts = cloneParts(a.Parts)
	out.Metadata = maps.Clone(a.Metadata)
	if a.Append != nil {
		v := *a.Append
		out.Append = &v
	}
	if a.LastChunk != nil {
		v := *a.LastChunk
		out.LastChunk = &v
	}
	return out
}

// Task is the authoritative record of one unit of submitted work
type Task struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId,omitempty"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of t so callers never share memory with the store
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := &Task{
		ID:        t.ID,
		SessionID: t.SessionID,
		Status:    t.Status.Clone(),
		Metadata:  maps.Clone(t.Metadata),
	}
	if t.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(t.Artifacts))
		for i, a := range t.Artifacts {
			out.Artifacts[i] = a.Clone()
		}
	}
	if t.History != nil {
		out.History = make([]Message, len(t.History))
		for i := range t.History {
			out.History[i] = *t.History[i].Clone()
		}
	}
	return out
}

// AuthenticationInfo describes how the agent authenticates to a webhook
type AuthenticationInfo struct {
	Schemes     []string `json:"schemes"`
	Credentials string   `json:"credentials,omitempty"`
}

// PushNotificationConfig is a caller-registered webhook for one task
type PushNotificationConfig struct {
	URL            string              `json:"url"`
	Token          string              `json:"token,omitempty"`
	Authentication *AuthenticationInfo `json:"authentication,omitempty"`
}

// Clone returns a deep copy of c
func (c *PushNotificationConfig) Clone() *PushNotificationConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Authentication != nil {
		auth := *c.Authentication
		auth.Schemes = slices.Clone(c.Authentication.Schemes)
		out.Authentication = &auth
	}
	return &out
}

// TaskPushNotificationConfig binds a push config to a task id
type TaskPushNotificationConfig struct {
	ID                     string                 `json:"id"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}

// TaskSendParams are the parameters of tasks/send and tasks/sendSubscribe
type TaskSendParams struct {
	ID                  string                  `json:"id"`
	SessionID           string                  `json:"sessionId,omitempty"`
	Message             Message                 `json:"message"`
	AcceptedOutputModes []string                `json:"acceptedOutputModes,omitempty"`
	PushNotification    *PushNotificationConfig `json:"pushNotification,omitempty"`
	HistoryLength       *int                    `json:"historyLength,omitempty"`
	Metadata            map[string]any          `json:"metadata,omitempty"`
}

// TaskIDParams identify a task
type TaskIDParams struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams identify a task and bound the returned history
type TaskQueryParams struct {
	ID            string         `json:"id"`
	HistoryLength *int           `json:"historyLength,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
