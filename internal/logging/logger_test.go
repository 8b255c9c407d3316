package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLogger_WithContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{name: "with trace context", hasTrace: true},
		{name: "without trace context", hasTrace: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("agentd")
			ctx := context.Background()
			if tt.hasTrace {
				newCtx, span := tp.Tracer("test").Start(ctx, "test-span")
				ctx = newCtx
				defer span.End()
			}

			before := time.Now().UTC()
			entry := logger.WithContext(ctx)
			after := time.Now().UTC()

			if entry.Service != "agentd" {
				t.Errorf("WithContext() Service = %q, want agentd", entry.Service)
			}
			if entry.Time.Before(before) || entry.Time.After(after) {
				t.Errorf("WithContext() Time %v not between %v and %v", entry.Time, before, after)
			}
			if tt.hasTrace && entry.TraceID == "" {
				t.Error("WithContext() TraceID should be set with trace context")
			}
			if !tt.hasTrace && entry.TraceID != "" {
				t.Errorf("WithContext() TraceID = %q, want empty", entry.TraceID)
			}
		})
	}
}

func TestLogEntry_FluentMethods(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(*LogEntry) *LogEntry
		checkFn func(*testing.T, *LogEntry)
	}{
		{
			name:    "WithTask",
			setupFn: func(e *LogEntry) *LogEntry { return e.WithTask("t1") },
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.TaskID != "t1" {
					t.Errorf("TaskID = %q, want t1", e.TaskID)
				}
			},
		},
		{
			name:    "WithSession",
			setupFn: func(e *LogEntry) *LogEntry { return e.WithSession("s1") },
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.SessionID != "s1" {
					t.Errorf("SessionID = %q, want s1", e.SessionID)
				}
			},
		},
		{
			name:    "WithMethod",
			setupFn: func(e *LogEntry) *LogEntry { return e.WithMethod("tasks/send") },
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.Method != "tasks/send" {
					t.Errorf("Method = %q, want tasks/send", e.Method)
				}
			},
		},
		{
			name: "chained",
			setupFn: func(e *LogEntry) *LogEntry {
				return e.WithTraceID("trace-1").WithTask("t2").WithDelivery("d-1")
			},
			checkFn: func(t *testing.T, e *LogEntry) {
				if e.TraceID != "trace-1" || e.TaskID != "t2" || e.DeliveryID != "d-1" {
					t.Errorf("chained entry = %+v", e)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := New("test-service").Plain()
			if got := tt.setupFn(entry); got != entry {
				t.Error("fluent method should return the same entry")
			}
			tt.checkFn(t, entry)
		})
	}
}

func TestLogEntry_WithError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "with error", err: fmt.Errorf("boom")},
		{name: "with nil error", err: nil},
		{name: "with wrapped error", err: fmt.Errorf("send: %w", fmt.Errorf("refused"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := New("test-service").Plain().WithError(tt.err)
			if tt.err == nil {
				if _, ok := entry.Fields["error"]; ok {
					t.Error("WithError(nil) should not add an error field")
				}
				return
			}
			if entry.Fields["error"] != tt.err.Error() {
				t.Errorf("Fields[error] = %v, want %v", entry.Fields["error"], tt.err.Error())
			}
		})
	}
}

func TestLogEntry_Output(t *testing.T) {
	tests := []struct {
		name      string
		logFn     func(*LogEntry)
		wantLevel LogLevel
		wantMsg   string
	}{
		{name: "Debug", logFn: func(e *LogEntry) { e.Debug("debug message") }, wantLevel: LevelDebug, wantMsg: "debug message"},
		{name: "Infof", logFn: func(e *LogEntry) { e.Infof("task %s", "t1") }, wantLevel: LevelInfo, wantMsg: "task t1"},
		{name: "Debugf", logFn: func(e *LogEntry) { e.Debugf("%d subscribers", 2) }, wantLevel: LevelDebug, wantMsg: "2 subscribers"},
		{name: "Warn", logFn: func(e *LogEntry) { e.Warn("slow subscriber") }, wantLevel: LevelWarn, wantMsg: "slow subscriber"},
		{name: "Warnf", logFn: func(e *LogEntry) { e.Warnf("attempt %d", 2) }, wantLevel: LevelWarn, wantMsg: "attempt 2"},
		{name: "Errorf", logFn: func(e *LogEntry) { e.Errorf("push failed: %d", 502) }, wantLevel: LevelError, wantMsg: "push failed: 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter("test-service", &buf)
			tt.logFn(logger.Plain().WithTask("t1").WithField("attempt", 1))

			var got map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &got); err != nil {
				t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
			}
			if got["level"] != string(tt.wantLevel) {
				t.Errorf("level = %v, want %v", got["level"], tt.wantLevel)
			}
			if got["msg"] != tt.wantMsg {
				t.Errorf("msg = %v, want %v", got["msg"], tt.wantMsg)
			}
			if got["task_id"] != "t1" {
				t.Errorf("task_id = %v, want t1", got["task_id"])
			}
			fields, _ := got["fields"].(map[string]any)
			if fields["attempt"] != float64(1) {
				t.Errorf("fields.attempt = %v, want 1", fields["attempt"])
			}
		})
	}
}

func TestLogEntry_OmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("svc", &buf).Plain().Info("hello")

	if strings.Contains(buf.String(), `"fields"`) {
		t.Errorf("empty fields should be omitted, got %s", buf.String())
	}
	if strings.Contains(buf.String(), `"task_id"`) {
		t.Errorf("empty task id should be omitted, got %s", buf.String())
	}
}

func TestGlobalFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefaultOutput(&buf)
	SetDefaultService("global-test")
	defer func() {
		SetDefaultOutput(nil)
		SetDefaultService("harbor-agent")
	}()

	WithFields(map[string]any{"k": "v"}).Info("from default")
	if !strings.Contains(buf.String(), `"service":"global-test"`) {
		t.Errorf("default logger output = %s, want service global-test", buf.String())
	}
	if e := WithContext(context.Background()); e.Service != "global-test" {
		t.Errorf("WithContext() Service = %q, want global-test", e.Service)
	}
	if e := Plain(); e.Fields == nil {
		t.Error("Plain() Fields should not be nil")
	}
}
