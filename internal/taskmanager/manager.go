// Package taskmanager drives tasks through their lifecycle: it validates
// requests, runs the agent, records every transition in the task store,
// publishes it to live subscribers and pushes it to registered webhooks.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/agent"
	"github.com/austindbirch/harbor_agent/internal/eventhub"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/taskstore"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// Notifier is the push side of the manager. *notify.Gateway satisfies it.
type Notifier interface {
	Register(ctx context.Context, taskID string, cfg *a2a.PushNotificationConfig) bool
	Config(taskID string) (*a2a.PushNotificationConfig, bool)
	Notify(ctx context.Context, task *a2a.Task)
}

// ErrInvalidPushURL is returned when a webhook fails its ownership challenge
var ErrInvalidPushURL = a2a.NewInvalidParamsError("Push notification URL is invalid")

// Manager owns the task lifecycle
type Manager struct {
	store *taskstore.Store
	hub   *eventhub.Hub
	agent agent.Capability
	push  Notifier // nil when push notifications are disabled

	mu      sync.Mutex
	runs    map[string]*run
	closing bool
}

// New returns a manager. A nil push disables push notifications.
func New(store *taskstore.Store, hub *eventhub.Hub, capability agent.Capability, push Notifier) *Manager {
	return &Manager{
		store: store,
		hub:   hub,
		agent: capability,
		push:  push,
		runs:  make(map[string]*run),
	}
}

// PushEnabled reports whether the manager accepts push notification configs
func (m *Manager) PushEnabled() bool {
	return m.push != nil
}

// SupportedContentTypes are the output modes of the underlying agent
func (m *Manager) SupportedContentTypes() []string {
	return m.agent.SupportedContentTypes()
}

// validate checks a send request before anything is mutated and returns the text query
func (m *Manager) validate(params a2a.TaskSendParams) (string, error) {
	if params.ID == "" {
		return "", a2a.NewInvalidParamsError("task id is required")
	}
	if !compatibleModes(params.AcceptedOutputModes, m.agent.SupportedContentTypes()) {
		return "", a2a.NewIncompatibleModalitiesError(params.AcceptedOutputModes, m.agent.SupportedContentTypes())
	}
	if params.PushNotification != nil {
		if m.push == nil {
			return "", a2a.ErrPushNotSupported
		}
		if params.PushNotification.URL == "" {
			return "", a2a.NewInvalidParamsError("Push notification URL is missing")
		}
	}
	return extractQuery(params.Message)
}

// compatibleModes reports whether accepted shares a mode with supported. No accepted modes means anything goes.
func compatibleModes(accepted, supported []string) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, mode := range accepted {
		if slices.Contains(supported, mode) {
			return true
		}
	}
	return false
}

func extractQuery(msg a2a.Message) (string, error) {
	if len(msg.Parts) == 0 {
		return "", a2a.NewInvalidParamsError("message has no parts")
	}
	if p := msg.Parts[0]; p.Type != a2a.PartTypeText {
		return "", a2a.NewUnsupportedContentError(p.Type)
	}
	return msg.Parts[0].Text, nil
}

// registerPush verifies and stores the request's webhook, if it has one
func (m *Manager) registerPush(ctx context.Context, params a2a.TaskSendParams) error {
	if params.PushNotification == nil {
		return nil
	}
	if !m.push.Register(ctx, params.ID, params.PushNotification) {
		return ErrInvalidPushURL
	}
	return nil
}

// accept records the inbound message on a new or resumable task
func (m *Manager) accept(ctx context.Context, params a2a.TaskSendParams) error {
	task, created, err := m.store.Upsert(ctx, params)
	if err != nil {
		return err
	}
	if created {
		return nil
	}
	if task.Status.State.IsTerminal() {
		return a2a.NewInvalidParamsError(fmt.Sprintf("task %s is already %s", task.ID, task.Status.State))
	}
	_, err = m.store.RecordMessage(ctx, params.ID, params.Message)
	return err
}

func (m *Manager) startWorking(ctx context.Context, id string) error {
	_, err := m.transition(ctx, id, a2a.TaskStatus{State: a2a.TaskStateWorking}, false)
	return err
}

// transition persists a status change, publishes it and pushes it. Artifact
// events are published ahead of the status event that carries them. A final
// transition frees the task id before it is announced, so a caller reacting
// to the final event can send on the same id at once.
func (m *Manager) transition(ctx context.Context, id string, status a2a.TaskStatus, final bool, artifacts ...a2a.Artifact) (*a2a.Task, error) {
	task, err := m.store.UpdateStatus(ctx, id, status, artifacts...)
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition(string(task.Status.State))
	tracing.AddSpanEvent(ctx, "task.transition", tracing.AttrTaskState.String(string(task.Status.State)))
	if final {
		m.unregister(id)
	}

	for _, a := range artifacts {
		m.hub.Publish(id, &a2a.TaskArtifactUpdateEvent{ID: id, Artifact: a.Clone()})
	}
	m.hub.Publish(id, &a2a.TaskStatusUpdateEvent{ID: id, Status: task.Status.Clone(), Final: final})
	if m.push != nil {
		m.push.Notify(ctx, task)
	}
	return task, nil
}

// fail marks the task failed and always publishes a final event carrying the
// error so no subscriber waits forever.
func (m *Manager) fail(ctx context.Context, id string, cause error) {
	tracing.SetSpanError(ctx, cause)
	logging.WithContext(ctx).WithTask(id).WithError(cause).Error("task failed")

	rpcErr := a2a.NewInternalError(cause.Error())
	status := a2a.TaskStatus{State: a2a.TaskStateFailed}
	task, err := m.store.UpdateStatus(ctx, id, status)
	m.unregister(id)
	if err != nil {
		logging.WithContext(ctx).WithTask(id).WithError(err).Warn("could not record failure")
	} else {
		status = task.Status
		metrics.RecordTransition(string(status.State))
		if m.push != nil {
			m.push.Notify(ctx, task)
		}
	}
	m.hub.Publish(id, &a2a.TaskStatusUpdateEvent{ID: id, Status: status.Clone(), Final: true, Err: rpcErr})
}

// complete maps an agent result onto the task's next state
func (m *Manager) complete(ctx context.Context, id string, res agent.Result) (*a2a.Task, error) {
	msg := a2a.NewAgentTextMessage(res.Content)
	if res.RequireUserInput {
		return m.transition(ctx, id, a2a.TaskStatus{State: a2a.TaskStateInputRequired, Message: msg}, true)
	}
	artifact := a2a.Artifact{Parts: []a2a.Part{a2a.NewTextPart(res.Content)}, Index: 0}
	return m.transition(ctx, id, a2a.TaskStatus{State: a2a.TaskStateCompleted, Message: msg}, true, artifact)
}

// invoke calls the agent once, turning a panic into an error
func (m *Manager) invoke(ctx context.Context, query, sessionID string) (res agent.Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
		metrics.RecordAgentInvocation("unary", outcome(res, err), time.Since(start))
	}()
	return m.agent.Invoke(ctx, query, sessionID)
}

func outcome(res agent.Result, err error) string {
	switch {
	case err != nil:
		return "failed"
	case res.RequireUserInput:
		return "input_required"
	}
	return "completed"
}

// HandleSend runs a task to its next resting state and returns the snapshot
func (m *Manager) HandleSend(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "task.send",
		tracing.AttrTaskID.String(params.ID),
		tracing.AttrSessionID.String(params.SessionID),
	)
	defer span.End()

	query, err := m.validate(params)
	if err != nil {
		return nil, err
	}
	runCtx, r, err := m.claim(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	defer m.release(params.ID, r)

	if err := m.registerPush(runCtx, params); err != nil {
		return nil, err
	}
	if err := m.accept(runCtx, params); err != nil {
		return nil, err
	}
	if err := m.startWorking(runCtx, params.ID); err != nil {
		return nil, a2a.AsError(err)
	}

	res, err := m.invoke(runCtx, query, params.SessionID)
	if err != nil {
		m.fail(runCtx, params.ID, err)
		return nil, a2a.NewInternalError(err.Error())
	}
	task, err := m.complete(runCtx, params.ID, res)
	if err != nil {
		return nil, a2a.AsError(err)
	}
	logging.WithContext(ctx).WithTask(task.ID).WithSession(task.SessionID).
		WithField("state", task.Status.State).Info("task processed")
	return taskstore.TruncateHistory(task, taskstore.HistoryLimit(params.HistoryLength)), nil
}

// HandleStreamingSend starts the agent in the background and returns the
// task's live event sequence at once. The run is not tied to ctx: a caller
// that stops draining does not stop the work.
func (m *Manager) HandleStreamingSend(ctx context.Context, params a2a.TaskSendParams) (iter.Seq[a2a.Event], error) {
	ctx, span := tracing.StartSpan(ctx, "task.send_subscribe",
		tracing.AttrTaskID.String(params.ID),
		tracing.AttrSessionID.String(params.SessionID),
	)
	defer span.End()

	query, err := m.validate(params)
	if err != nil {
		return nil, err
	}
	runCtx, r, err := m.claim(context.WithoutCancel(ctx), params.ID)
	if err != nil {
		return nil, err
	}
	if err := m.registerPush(runCtx, params); err != nil {
		m.release(params.ID, r)
		return nil, err
	}
	if err := m.accept(runCtx, params); err != nil {
		m.release(params.ID, r)
		return nil, err
	}

	// Subscribe before the first transition so the caller sees every event.
	sub := m.hub.Subscribe(params.ID, false)
	if err := m.startWorking(runCtx, params.ID); err != nil {
		m.hub.Unsubscribe(sub)
		m.release(params.ID, r)
		return nil, a2a.AsError(err)
	}
	go m.runStream(runCtx, r, params, query)

	return m.hub.Drain(ctx, sub), nil
}

// runStream is the background half of HandleStreamingSend
func (m *Manager) runStream(ctx context.Context, r *run, params a2a.TaskSendParams, query string) {
	id := params.ID
	ctx, span := tracing.StartSpan(ctx, "task.run", tracing.AttrTaskID.String(id))
	defer span.End()
	defer m.release(id, r)

	start := time.Now()
	result := "failed"
	defer func() {
		if p := recover(); p != nil {
			m.fail(ctx, id, fmt.Errorf("agent panicked: %v", p))
		}
		metrics.RecordAgentInvocation("stream", result, time.Since(start))
	}()

	for res, err := range m.agent.Stream(ctx, query, params.SessionID) {
		if err != nil {
			m.fail(ctx, id, err)
			return
		}
		if !res.IsTaskComplete && !res.RequireUserInput {
			status := a2a.TaskStatus{State: a2a.TaskStateWorking, Message: a2a.NewAgentTextMessage(res.Content)}
			if _, err := m.transition(ctx, id, status, false); err != nil {
				m.fail(ctx, id, err)
				return
			}
			continue
		}
		if _, err := m.complete(ctx, id, res); err != nil {
			m.fail(ctx, id, err)
			return
		}
		result = outcome(res, nil)
		return
	}
	m.fail(ctx, id, errors.New("agent stream ended without a result"))
}

// HandleResubscribe attaches a fresh subscription to a known task. A task
// that is no longer running yields its current status as a single final event.
func (m *Manager) HandleResubscribe(ctx context.Context, params a2a.TaskQueryParams) (iter.Seq[a2a.Event], error) {
	if _, err := m.store.Get(ctx, params.ID); err != nil {
		return nil, err
	}

	// Subscribe before re-reading so a transition between the two is not lost.
	sub := m.hub.Subscribe(params.ID, true)
	task, err := m.store.Get(ctx, params.ID)
	if err != nil {
		m.hub.Unsubscribe(sub)
		return nil, err
	}
	state := task.Status.State
	if state.IsTerminal() || (state == a2a.TaskStateInputRequired && !m.running(params.ID)) {
		m.hub.Unsubscribe(sub)
		final := &a2a.TaskStatusUpdateEvent{ID: task.ID, Status: task.Status, Final: true}
		return func(yield func(a2a.Event) bool) { yield(final) }, nil
	}
	return m.hub.Drain(ctx, sub), nil
}

// HandleGetTask returns a snapshot with history trimmed to the requested length
func (m *Manager) HandleGetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	task, err := m.store.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return taskstore.TruncateHistory(task, taskstore.HistoryLimit(params.HistoryLength)), nil
}

// HandleCancelTask always refuses: the agent cannot be interrupted mid-answer
func (m *Manager) HandleCancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error) {
	if _, err := m.store.Get(ctx, params.ID); err != nil {
		return nil, err
	}
	return nil, a2a.ErrTaskNotCancelable
}

// HandleSetPushNotification verifies and stores a webhook for an existing task
func (m *Manager) HandleSetPushNotification(ctx context.Context, params a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	if m.push == nil {
		return nil, a2a.ErrPushNotSupported
	}
	if _, err := m.store.Get(ctx, params.ID); err != nil {
		return nil, err
	}
	if params.PushNotificationConfig.URL == "" {
		return nil, a2a.NewInvalidParamsError("Push notification URL is missing")
	}
	if !m.push.Register(ctx, params.ID, &params.PushNotificationConfig) {
		return nil, ErrInvalidPushURL
	}
	return &params, nil
}

// HandleGetPushNotification returns the webhook registered for a task
func (m *Manager) HandleGetPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error) {
	if m.push == nil {
		return nil, a2a.ErrPushNotSupported
	}
	if _, err := m.store.Get(ctx, params.ID); err != nil {
		return nil, err
	}
	cfg, ok := m.push.Config(params.ID)
	if !ok {
		return nil, a2a.NewInvalidParamsError(fmt.Sprintf("No push notification configured for task %s", params.ID))
	}
	return &a2a.TaskPushNotificationConfig{ID: params.ID, PushNotificationConfig: *cfg}, nil
}
