// Package taskstore keeps the authoritative in-memory record of every task.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/austindbirch/harbor_agent/internal/a2a"
)

// ErrInvalidTransition is returned when an update would move a task backwards
var ErrInvalidTransition = errors.New("invalid task state transition")

type entry struct {
	mu   sync.Mutex
	task *a2a.Task
}

// Store is a concurrency-safe map of tasks. Writes to one task id are
// serialized by that task's own lock, so unrelated tasks never contend
// beyond the brief index lookup.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*entry

	now func() time.Time
}

// New returns an empty store
func New() *Store {
	return &Store{
		tasks: make(map[string]*entry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	return e, ok
}

// Upsert creates a submitted task for params.ID whose history starts with the
// inbound message, or returns the existing record untouched. created reports
// which of the two happened.
func (s *Store) Upsert(_ context.Context, params a2a.TaskSendParams) (task *a2a.Task, created bool, err error) {
	if params.ID == "" {
		return nil, false, a2a.NewInvalidParamsError("task id is required")
	}
	if e, ok := s.lookup(params.ID); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.task.Clone(), false, nil
	}

	s.mu.Lock()
	e, ok := s.tasks[params.ID]
	if !ok {
		e = &entry{task: &a2a.Task{
			ID:        params.ID,
			SessionID: params.SessionID,
			Status: a2a.TaskStatus{
				State:     a2a.TaskStateSubmitted,
				Timestamp: s.now(),
			},
			History:  []a2a.Message{*params.Message.Clone()},
			Metadata: maps.Clone(params.Metadata),
		}}
		s.tasks[params.ID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), !ok, nil
}

// RecordMessage appends a follow-up caller message to the task's history
func (s *Store) RecordMessage(_ context.Context, id string, msg a2a.Message) (*a2a.Task, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, a2a.NewTaskNotFoundError(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task.History = append(e.task.History, *msg.Clone())
	return e.task.Clone(), nil
}

// UpdateStatus replaces the task's status, appends artifacts and appends the
// status message to history, all under the task's lock.
func (s *Store) UpdateStatus(_ context.Context, id string, status a2a.TaskStatus, artifacts ...a2a.Artifact) (*a2a.Task, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, a2a.NewTaskNotFoundError(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.task.Status.State
	if !a2a.CanTransition(from, status.State) {
		return nil, fmt.Errorf("task %s: %s -> %s: %w", id, from, status.State, ErrInvalidTransition)
	}

	status = status.Clone()
	if status.Timestamp.IsZero() {
		status.Timestamp = s.now()
	}
	e.task.Status = status
	for _, a := range artifacts {
		e.task.Artifacts = append(e.task.Artifacts, a.Clone())
	}
	if status.Message != nil {
		e.task.History = append(e.task.History, *status.Message.Clone())
	}
	return e.task.Clone(), nil
}

// Get returns a snapshot of the task
func (s *Store) Get(_ context.Context, id string) (*a2a.Task, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, a2a.NewTaskNotFoundError(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// Len returns the number of tasks held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// TruncateHistory returns a copy of task keeping only the last limit history
// entries. limit <= 0 means unbounded.
func TruncateHistory(task *a2a.Task, limit int) *a2a.Task {
	out := task.Clone()
	if out == nil || limit <= 0 || len(out.History) <= limit {
		return out
	}
	out.History = out.History[len(out.History)-limit:]
	return out
}

// HistoryLimit reads an optional caller-supplied history length
func HistoryLimit(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
