package eventhub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/harbor_agent/internal/a2a"
)

func status(id string, state a2a.TaskState, final bool) *a2a.TaskStatusUpdateEvent {
	return &a2a.TaskStatusUpdateEvent{ID: id, Status: a2a.TaskStatus{State: state}, Final: final}
}

func artifact(id, text string) *a2a.TaskArtifactUpdateEvent {
	return &a2a.TaskArtifactUpdateEvent{ID: id, Artifact: a2a.Artifact{Parts: []a2a.Part{a2a.NewTextPart(text)}}}
}

func collect(ctx context.Context, h *Hub, sub *Subscription) []a2a.Event {
	var out []a2a.Event
	for ev := range h.Drain(ctx, sub) {
		out = append(out, ev)
	}
	return out
}

func TestDrain_EndsOnFinalEvent(t *testing.T) {
	h := New()
	sub := h.Subscribe("t1", false)

	h.Publish("t1", status("t1", a2a.TaskStateWorking, false))
	h.Publish("t1", artifact("t1", "1 USD = 0.92 EUR"))
	h.Publish("t1", status("t1", a2a.TaskStateCompleted, true))
	h.Publish("t1", status("t1", a2a.TaskStateCompleted, true)) // must not be delivered

	got := collect(context.Background(), h, sub)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if !got[2].IsFinal() {
		t.Error("last event should be final")
	}
	for i, ev := range got[:2] {
		if ev.IsFinal() {
			t.Errorf("event %d is final before the end", i)
		}
	}
	if n := h.Subscribers("t1"); n != 0 {
		t.Errorf("Subscribers() = %d after drain, want 0", n)
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	h := New()
	h.Publish("nobody", status("nobody", a2a.TaskStateWorking, false))
	if h.Subscribers("nobody") != 0 {
		t.Error("publish without subscribers should not create state")
	}
}

func TestSubscribe_NoReplay(t *testing.T) {
	h := New()
	early := h.Subscribe("t1", false)
	h.Publish("t1", status("t1", a2a.TaskStateWorking, false))

	late := h.Subscribe("t1", true)
	h.Publish("t1", status("t1", a2a.TaskStateCompleted, true))

	if got := collect(context.Background(), h, early); len(got) != 2 {
		t.Errorf("early subscriber got %d events, want 2", len(got))
	}
	got := collect(context.Background(), h, late)
	if len(got) != 1 || !got[0].IsFinal() {
		t.Errorf("late subscriber got %v, want only the final event", got)
	}
}

func TestPublish_OrderPerSubscriber(t *testing.T) {
	h := New()
	const subscribers = 5
	const events = 200

	subs := make([]*Subscription, subscribers)
	for i := range subs {
		subs[i] = h.Subscribe("t1", false)
	}

	results := make([][]string, subscribers)
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range h.Drain(context.Background(), sub) {
				if a, ok := ev.(*a2a.TaskArtifactUpdateEvent); ok {
					results[i] = append(results[i], a.Artifact.Parts[0].Text)
				}
				if i == 0 {
					// one slow reader must not hold back the others
					time.Sleep(time.Microsecond)
				}
			}
		}()
	}

	for n := range events {
		h.Publish("t1", artifact("t1", fmt.Sprint(n)))
	}
	h.Publish("t1", status("t1", a2a.TaskStateCompleted, true))
	wg.Wait()

	for i, got := range results {
		if len(got) != events {
			t.Fatalf("subscriber %d got %d events, want %d", i, len(got), events)
		}
		for n, text := range got {
			if text != fmt.Sprint(n) {
				t.Fatalf("subscriber %d event %d = %s, out of order", i, n, text)
			}
		}
	}
}

func TestDrain_ContextCancel(t *testing.T) {
	h := New()
	sub := h.Subscribe("t1", false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan []a2a.Event)
	go func() { done <- collect(ctx, h, sub) }()

	h.Publish("t1", status("t1", a2a.TaskStateWorking, false))
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case got := <-done:
		if len(got) > 1 {
			t.Errorf("got %d events, want at most 1", len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("Drain did not stop after context cancel")
	}
	if h.Subscribers("t1") != 0 {
		t.Error("canceled drain should unsubscribe")
	}
}

func TestDrain_ConsumerStopsEarly(t *testing.T) {
	h := New()
	sub := h.Subscribe("t1", false)
	h.Publish("t1", status("t1", a2a.TaskStateWorking, false))
	h.Publish("t1", status("t1", a2a.TaskStateWorking, false))

	for range h.Drain(context.Background(), sub) {
		break
	}
	if h.Subscribers("t1") != 0 {
		t.Error("breaking out of the drain loop should unsubscribe")
	}
}

func TestClose(t *testing.T) {
	h := New()
	a := h.Subscribe("t1", false)
	b := h.Subscribe("t1", false)
	other := h.Subscribe("t2", false)

	h.Publish("t1", status("t1", a2a.TaskStateWorking, false))
	h.Close("t1")

	// Buffered events survive close and the sequence then ends.
	if got := collect(context.Background(), h, a); len(got) != 1 {
		t.Errorf("a got %d events, want 1", len(got))
	}
	if got := collect(context.Background(), h, b); len(got) != 1 {
		t.Errorf("b got %d events, want 1", len(got))
	}
	if h.Subscribers("t2") != 1 {
		t.Error("Close must not affect other tasks")
	}
	h.Unsubscribe(other)
	h.Unsubscribe(other)
	if h.Subscribers("t2") != 0 {
		t.Error("Unsubscribe should remove the subscription")
	}
}

func TestSubscribe_ConcurrentWithUnsubscribe(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Unsubscribe(h.Subscribe("t1", false))
		}()
		go func() {
			defer wg.Done()
			sub := h.Subscribe("t1", false)
			h.Publish("t1", status("t1", a2a.TaskStateCompleted, true))
			got := collect(context.Background(), h, sub)
			if len(got) == 0 {
				t.Error("subscriber missed an event published after it subscribed")
			}
		}()
	}
	wg.Wait()
}
