// Package eventhub fans task events out to live subscribers.
package eventhub

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/metrics"
)

var nextID atomic.Uint64

// Subscription is one subscriber's ordered event buffer for a task.
// The buffer is unbounded so a slow reader never blocks the publisher.
type Subscription struct {
	id     uint64
	taskID string

	mu     sync.Mutex
	queue  []a2a.Event
	closed bool
	signal chan struct{} // cap 1, poked on every push and on close
}

func newSubscription(taskID string) *Subscription {
	return &Subscription{
		id:     nextID.Add(1),
		taskID: taskID,
		signal: make(chan struct{}, 1),
	}
}

// TaskID returns the id of the task the subscription observes
func (s *Subscription) TaskID() string { return s.taskID }

func (s *Subscription) push(ev a2a.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.poke()
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.poke()
}

func (s *Subscription) poke() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// pop removes the oldest buffered event. done is true once the
// subscription is closed and fully drained.
func (s *Subscription) pop() (ev a2a.Event, ok bool, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		ev = s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		return ev, true, false
	}
	return nil, false, s.closed
}

type topic struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
}

// Hub routes events to the subscriptions registered for each task id
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// New returns an empty hub
func New() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

func (h *Hub) topic(taskID string) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.topics[taskID]
}

// Subscribe registers a new subscription for taskID. The subscriber sees only
// events published after this call; replay is accepted for symmetry with
// resubscription and ignored, as no backlog is kept.
func (h *Hub) Subscribe(taskID string, replay bool) *Subscription {
	_ = replay
	sub := newSubscription(taskID)

	// Insert under the hub lock so a concurrent Unsubscribe cannot drop the
	// topic between lookup and insert.
	h.mu.Lock()
	t, ok := h.topics[taskID]
	if !ok {
		t = &topic{subs: make(map[uint64]*Subscription)}
		h.topics[taskID] = t
	}
	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()
	h.mu.Unlock()

	metrics.ActiveSubscribers.Inc()
	return sub
}

// Unsubscribe removes and closes sub. Calling it twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	t, ok := h.topics[sub.taskID]
	if !ok {
		h.mu.Unlock()
		sub.close()
		return
	}
	t.mu.Lock()
	_, present := t.subs[sub.id]
	delete(t.subs, sub.id)
	if len(t.subs) == 0 {
		delete(h.topics, sub.taskID)
	}
	t.mu.Unlock()
	h.mu.Unlock()

	sub.close()
	if present {
		metrics.ActiveSubscribers.Dec()
	}
}

// Publish appends ev to every subscription of taskID in call order.
// Publishing to a task nobody watches is a no-op.
func (h *Hub) Publish(taskID string, ev a2a.Event) {
	t := h.topic(taskID)
	if t == nil {
		return
	}
	// Holding the topic lock across the fan-out keeps the per-task order
	// identical for every subscriber.
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		sub.push(ev)
	}
}

// Close ends every subscription of taskID. Buffered events are still drained.
func (h *Hub) Close(taskID string) {
	h.mu.Lock()
	t, ok := h.topics[taskID]
	delete(h.topics, taskID)
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sub := range t.subs {
		sub.close()
		delete(t.subs, id)
		metrics.ActiveSubscribers.Dec()
	}
}

// Subscribers returns the number of live subscriptions for taskID
func (h *Hub) Subscribers(taskID string) int {
	t := h.topic(taskID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Drain yields sub's events as they arrive. The sequence ends after a final
// event, when ctx is done, or when the subscription is closed; it always
// unsubscribes on exit.
func (h *Hub) Drain(ctx context.Context, sub *Subscription) iter.Seq[a2a.Event] {
	return func(yield func(a2a.Event) bool) {
		defer h.Unsubscribe(sub)
		for {
			ev, ok, done := sub.pop()
			if ok {
				if !yield(ev) || ev.IsFinal() {
					return
				}
				continue
			}
			if done {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-sub.signal:
			}
		}
	}
}
