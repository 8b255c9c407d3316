package notify

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_agent/internal/delivery"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// Recorder accounts for the outcome of one push attempt: logs, metrics, the
// optional ledger row and the optional dead letter. It never retries.
type Recorder struct {
	ledger   *Ledger
	dlq      Publisher
	dlqTopic string
}

// NewRecorder accepts a nil ledger and a nil dlq publisher
func NewRecorder(ledger *Ledger, dlq Publisher, dlqTopic string) *Recorder {
	return &Recorder{ledger: ledger, dlq: dlq, dlqTopic: dlqTopic}
}

func (r *Recorder) Record(ctx context.Context, p delivery.Push, res delivery.Result) {
	reason := res.Reason()
	metrics.RecordPushDelivery(reason, res.Latency)

	log := logging.WithContext(ctx).WithTask(p.TaskID).WithDelivery(p.DeliveryID).WithFields(map[string]any{
		"url":         p.URL,
		"state":       p.State,
		"http_status": res.HTTPStatus,
		"latency_ms":  res.Latency.Milliseconds(),
	})
	if res.OK() {
		log.Info("push delivered")
	} else {
		log.WithField("reason", reason).WithError(res.Err).Warn("push failed")
	}

	if r.ledger != nil {
		if err := r.ledger.Record(ctx, p, res); err != nil {
			logging.WithContext(ctx).WithDelivery(p.DeliveryID).WithError(err).Error("ledger write failed")
		}
	}

	if res.OK() || r.dlq == nil {
		return
	}
	b, err := json.Marshal(delivery.NewDeadLetter(p, res.HTTPStatus, delivery.ErrString(res.Err), reason))
	if err != nil {
		return
	}
	if err := r.dlq.Publish(r.dlqTopic, b); err != nil {
		tracing.SetSpanError(ctx, err)
		logging.WithContext(ctx).WithDelivery(p.DeliveryID).WithError(err).Error("dlq publish failed")
		return
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", r.dlqTopic))
	metrics.RecordDLQ(reason)
}
