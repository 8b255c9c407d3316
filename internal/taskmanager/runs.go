package taskmanager

import (
	"context"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/metrics"
)

// run is the handle of one in-flight agent execution
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var (
	ErrTaskRunning  = a2a.NewInvalidParamsError("task is already running")
	ErrShuttingDown = a2a.NewInternalError("task manager is shutting down")
)

// claim registers a run for id. Only one run per task id may be live.
func (m *Manager) claim(parent context.Context, id string) (context.Context, *run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, nil, ErrShuttingDown
	}
	if _, busy := m.runs[id]; busy {
		return nil, nil, ErrTaskRunning
	}

	ctx, cancel := context.WithCancel(parent)
	r := &run{cancel: cancel, done: make(chan struct{})}
	m.runs[id] = r
	metrics.ActiveRuns.Inc()
	return ctx, r, nil
}

func (m *Manager) release(id string, r *run) {
	m.mu.Lock()
	if m.runs[id] == r {
		delete(m.runs, id)
	}
	m.mu.Unlock()

	r.cancel()
	close(r.done)
	metrics.ActiveRuns.Dec()
}

// unregister frees id for the next send while the run winds down
func (m *Manager) unregister(id string) {
	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()
}

func (m *Manager) running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runs[id]
	return ok
}

// Running returns the number of live runs
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Shutdown refuses new sends, cancels every live run and waits for them to
// finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	live := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		r.cancel()
		live = append(live, r)
	}
	m.mu.Unlock()

	for _, r := range live {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
