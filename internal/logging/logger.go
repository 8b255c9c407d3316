package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// LogLevel is the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogEntry is one structured log line
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      LogLevel       `json:"level"`
	Message    string         `json:"msg"`
	Service    string         `json:"service,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Method     string         `json:"method,omitempty"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`

	out io.Writer
}

// Logger writes JSON log lines correlated with the active trace
type Logger struct {
	service string
	out     io.Writer
}

var outMu sync.Mutex

// New creates a logger for service writing to stdout
func New(service string) *Logger {
	return &Logger{service: service, out: os.Stdout}
}

// NewWithWriter creates a logger that writes to w
func NewWithWriter(service string, w io.Writer) *Logger {
	return &Logger{service: service, out: w}
}

func (l *Logger) entry(fields map[string]any) *LogEntry {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &LogEntry{
		Time:    time.Now().UTC(),
		Service: l.service,
		Fields:  fields,
		out:     l.out,
	}
}

// WithContext starts an entry carrying the trace id found in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	e := l.entry(nil)
	e.TraceID = tracing.GetTraceID(ctx)
	return e
}

// WithFields starts an entry with arbitrary key-value pairs
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return l.entry(fields)
}

// Plain starts an entry without context
func (l *Logger) Plain() *LogEntry {
	return l.entry(nil)
}

// WithTraceID sets the trace id
func (e *LogEntry) WithTraceID(traceID string) *LogEntry {
	e.TraceID = traceID
	return e
}

// WithTask sets the task id
func (e *LogEntry) WithTask(taskID string) *LogEntry {
	e.TaskID = taskID
	return e
}

// WithSession sets the conversational session id
func (e *LogEntry) WithSession(sessionID string) *LogEntry {
	e.SessionID = sessionID
	return e
}

// WithMethod sets the protocol method being served
func (e *LogEntry) WithMethod(method string) *LogEntry {
	e.Method = method
	return e
}

// WithDelivery sets the push delivery id
func (e *LogEntry) WithDelivery(deliveryID string) *LogEntry {
	e.DeliveryID = deliveryID
	return e
}

// WithField adds a single field
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds several fields
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError records err under the "error" field. A nil error is ignored.
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

func (e *LogEntry) Debug(message string) { e.write(LevelDebug, message) }

func (e *LogEntry) Debugf(format string, args ...any) {
	e.write(LevelDebug, fmt.Sprintf(format, args...))
}

func (e *LogEntry) Info(message string) { e.write(LevelInfo, message) }

func (e *LogEntry) Infof(format string, args ...any) {
	e.write(LevelInfo, fmt.Sprintf(format, args...))
}

func (e *LogEntry) Warn(message string) { e.write(LevelWarn, message) }

func (e *LogEntry) Warnf(format string, args ...any) {
	e.write(LevelWarn, fmt.Sprintf(format, args...))
}

func (e *LogEntry) Error(message string) { e.write(LevelError, message) }

func (e *LogEntry) Errorf(format string, args ...any) {
	e.write(LevelError, fmt.Sprintf(format, args...))
}

// Fatal logs and exits the process
func (e *LogEntry) Fatal(message string) {
	e.write(LevelFatal, message)
	os.Exit(1)
}

// Fatalf logs with formatting and exits the process
func (e *LogEntry) Fatalf(format string, args ...any) {
	e.write(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (e *LogEntry) write(level LogLevel, message string) {
	e.Level = level
	e.Message = message
	if len(e.Fields) == 0 {
		e.Fields = nil
	}
	out := e.out
	if out == nil {
		out = os.Stdout
	}

	data, err := json.Marshal(e)
	outMu.Lock()
	defer outMu.Unlock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		fmt.Fprintf(out, "%s [%s] %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message)
		return
	}
	out.Write(append(data, '\n'))
}

var defaultLogger = New("harbor-agent")

// WithContext starts an entry on the default logger
func WithContext(ctx context.Context) *LogEntry {
	return defaultLogger.WithContext(ctx)
}

// WithFields starts an entry with fields on the default logger
func WithFields(fields map[string]any) *LogEntry {
	return defaultLogger.WithFields(fields)
}

// Plain starts a bare entry on the default logger
func Plain() *LogEntry {
	return defaultLogger.Plain()
}

// SetDefaultService renames the default logger's service
func SetDefaultService(service string) {
	defaultLogger.service = service
}

// SetDefaultOutput redirects the default logger, mostly for tests
func SetDefaultOutput(w io.Writer) {
	defaultLogger.out = w
}
