package a2a

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskState
		to   TaskState
		want bool
	}{
		{name: "submitted to working", from: TaskStateSubmitted, to: TaskStateWorking, want: true},
		{name: "working to working", from: TaskStateWorking, to: TaskStateWorking, want: true},
		{name: "working to input required", from: TaskStateWorking, to: TaskStateInputRequired, want: true},
		{name: "working to completed", from: TaskStateWorking, to: TaskStateCompleted, want: true},
		{name: "working to failed", from: TaskStateWorking, to: TaskStateFailed, want: true},
		{name: "input required back to working", from: TaskStateInputRequired, to: TaskStateWorking, want: true},
		{name: "working back to submitted", from: TaskStateWorking, to: TaskStateSubmitted, want: false},
		{name: "input required back to submitted", from: TaskStateInputRequired, to: TaskStateSubmitted, want: false},
		{name: "completed to working", from: TaskStateCompleted, to: TaskStateWorking, want: false},
		{name: "failed to completed", from: TaskStateFailed, to: TaskStateCompleted, want: false},
		{name: "completed to completed", from: TaskStateCompleted, to: TaskStateCompleted, want: false},
		{name: "working to unknown", from: TaskStateWorking, to: TaskStateUnknown, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskClone(t *testing.T) {
	appendFlag := true
	orig := &Task{
		ID:        "t1",
		SessionID: "s1",
		Status: TaskStatus{
			State:   TaskStateInputRequired,
			Message: NewAgentTextMessage("which currency?"),
		},
		Artifacts: []Artifact{{Parts: []Part{NewTextPart("a")}, Index: 0, Append: &appendFlag}},
		History:   []Message{{Role: RoleUser, Parts: []Part{NewTextPart("rate?")}}},
		Metadata:  map[string]any{"k": "v"},
	}

	cp := orig.Clone()
	if diff := cmp.Diff(orig, cp); diff != "" {
		t.Fatalf("Clone() mismatch (-orig +clone):\n%s", diff)
	}

	cp.Status.Message.Parts[0].Text = "changed"
	cp.Artifacts[0].Parts[0].Text = "changed"
	*cp.Artifacts[0].Append = false
	cp.History[0].Parts[0].Text = "changed"
	cp.Metadata["k"] = "changed"

	if orig.Status.Message.Parts[0].Text != "which currency?" {
		t.Error("Clone() shares status message parts with original")
	}
	if orig.Artifacts[0].Parts[0].Text != "a" || !*orig.Artifacts[0].Append {
		t.Error("Clone() shares artifacts with original")
	}
	if orig.History[0].Parts[0].Text != "rate?" {
		t.Error("Clone() shares history with original")
	}
	if orig.Metadata["k"] != "v" {
		t.Error("Clone() shares metadata with original")
	}

	var nilTask *Task
	if nilTask.Clone() != nil {
		t.Error("Clone() of nil task should be nil")
	}
}

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{name: "not found matches sentinel", err: NewTaskNotFoundError("t1"), target: ErrTaskNotFound, want: true},
		{name: "wrapped not found matches", err: fmt.Errorf("lookup: %w", NewTaskNotFoundError("t1")), target: ErrTaskNotFound, want: true},
		{name: "invalid params is not internal", err: NewInvalidParamsError("bad"), target: ErrInternal, want: false},
		{name: "unsupported content is invalid params", err: NewUnsupportedContentError(PartTypeFile), target: ErrInvalidParams, want: true},
		{name: "modalities error", err: NewIncompatibleModalitiesError([]string{"image/png"}, []string{"text"}), target: ErrIncompatibleContentTypes, want: true},
		{name: "plain error", err: errors.New("boom"), target: ErrInternal, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}

	got := AsError(errors.New("boom"))
	if got.Code != CodeInternalError || got.Message != "boom" {
		t.Errorf("AsError(plain) = %+v, want internal error with message boom", got)
	}

	wrapped := fmt.Errorf("ctx: %w", NewTaskNotFoundError("t9"))
	got = AsError(wrapped)
	if got.Code != CodeTaskNotFound {
		t.Errorf("AsError(wrapped) code = %d, want %d", got.Code, CodeTaskNotFound)
	}
}

func TestEventFinal(t *testing.T) {
	status := &TaskStatusUpdateEvent{ID: "t1", Status: TaskStatus{State: TaskStateCompleted}, Final: true}
	artifact := &TaskArtifactUpdateEvent{ID: "t1", Artifact: Artifact{Parts: []Part{NewTextPart("x")}}}

	var events []Event = []Event{artifact, status}
	if events[0].IsFinal() {
		t.Error("artifact events are never final")
	}
	if !events[1].IsFinal() {
		t.Error("status event with Final=true should be final")
	}
	for _, ev := range events {
		if ev.GetTaskID() != "t1" {
			t.Errorf("GetTaskID() = %q, want t1", ev.GetTaskID())
		}
	}
}

func TestUnmarshalEvent(t *testing.T) {
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		event   Event
		raw     string
		wantErr error
	}{
		{
			name:  "status",
			event: &TaskStatusUpdateEvent{ID: "t1", Status: TaskStatus{State: TaskStateWorking, Message: NewAgentTextMessage("Looking up"), Timestamp: at}},
		},
		{
			name:  "final status",
			event: &TaskStatusUpdateEvent{ID: "t1", Status: TaskStatus{State: TaskStateCompleted, Timestamp: at}, Final: true},
		},
		{
			name:  "artifact",
			event: &TaskArtifactUpdateEvent{ID: "t1", Artifact: Artifact{Parts: []Part{NewTextPart("1 USD = 0.92 EUR")}}},
		},
		{name: "neither", raw: `{"id":"t1"}`, wantErr: ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(tt.raw)
			if tt.event != nil {
				var err error
				if data, err = json.Marshal(tt.event); err != nil {
					t.Fatal(err)
				}
			}
			got, err := UnmarshalEvent(data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("UnmarshalEvent() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("UnmarshalEvent() error: %v", err)
			}
			if diff := cmp.Diff(tt.event, got); diff != "" {
				t.Errorf("UnmarshalEvent() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := UnmarshalEvent([]byte("not json")); err == nil {
		t.Error("UnmarshalEvent(garbage) should fail")
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{name: "nil", msg: nil, want: ""},
		{name: "single", msg: NewAgentTextMessage("1 USD = 0.92 EUR"), want: "1 USD = 0.92 EUR"},
		{
			name: "mixed parts",
			msg: &Message{Role: RoleAgent, Parts: []Part{
				NewTextPart("first"),
				{Type: PartTypeData, Data: map[string]any{"rate": 0.92}},
				NewTextPart("second"),
			}},
			want: "first\nsecond",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}
