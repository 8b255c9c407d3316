package main

import (
	"context"
	"encoding/json"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_agent/internal/delivery"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/notify"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// pushHandler delivers one queued push per message. Every message is
// finished exactly once: a failed POST is recorded, never requeued.
type pushHandler struct {
	ctx      context.Context
	sender   *delivery.Sender
	recorder *notify.Recorder
}

var _ nsq.Handler = (*pushHandler)(nil)

func (h *pushHandler) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()
	defer m.Finish()

	var p delivery.Push
	if err := json.Unmarshal(m.Body, &p); err != nil {
		logging.Plain().WithError(err).WithField("nsq_id", string(m.ID[:])).Error("bad push payload")
		metrics.RecordPushDelivery("bad_payload", 0)
		return nil
	}

	ctx := tracing.ExtractHeaders(h.ctx, p.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "push-worker.delivery",
		attribute.String("delivery_id", p.DeliveryID),
		attribute.Int("nsq.attempts", int(m.Attempts)),
		tracing.AttrTaskID.String(p.TaskID),
		tracing.AttrTaskState.String(p.State),
	)
	defer span.End()

	if m.Attempts > 1 {
		// nsqd redelivered after a lost response; the receiver may see this push twice.
		logging.WithContext(ctx).WithTask(p.TaskID).WithDelivery(p.DeliveryID).
			WithField("attempts", m.Attempts).Warn("push redelivered by nsqd")
	}

	res := h.sender.Send(ctx, p)
	h.recorder.Record(ctx, p, res)
	return nil
}
