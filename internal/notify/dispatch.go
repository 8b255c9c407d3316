package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/austindbirch/harbor_agent/internal/delivery"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// Publisher is satisfied by *nsq.Producer
type Publisher interface {
	Publish(topic string, body []byte) error
}

// DirectDispatcher POSTs each push from its own goroutine inside this process
type DirectDispatcher struct {
	sender   *delivery.Sender
	recorder *Recorder
	wg       sync.WaitGroup
}

func NewDirectDispatcher(sender *delivery.Sender, recorder *Recorder) *DirectDispatcher {
	return &DirectDispatcher{sender: sender, recorder: recorder}
}

// Dispatch starts the POST and returns at once. The send outlives ctx's cancellation.
func (d *DirectDispatcher) Dispatch(ctx context.Context, p delivery.Push) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res := d.sender.Send(ctx, p)
		d.recorder.Record(ctx, p, res)
	}()
	return nil
}

// Wait blocks until every dispatched push has finished or ctx is done
func (d *DirectDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NSQDispatcher queues pushes for push-worker
type NSQDispatcher struct {
	producer Publisher
	topic    string
}

func NewNSQDispatcher(producer Publisher, topic string) *NSQDispatcher {
	return &NSQDispatcher{producer: producer, topic: topic}
}

func (d *NSQDispatcher) Dispatch(ctx context.Context, p delivery.Push) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}
	tracing.AddSpanEvent(ctx, "nsq.publish")
	if err := d.producer.Publish(d.topic, b); err != nil {
		return fmt.Errorf("publish push to %s: %w", d.topic, err)
	}
	metrics.RecordPushDelivery("queued", 0)
	logging.WithContext(ctx).WithTask(p.TaskID).WithDelivery(p.DeliveryID).
		WithField("topic", d.topic).Debug("push queued")
	return nil
}
