package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/auth"
	"github.com/austindbirch/harbor_agent/internal/delivery"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// Dispatcher hands a signed push to whatever performs the HTTP POST
type Dispatcher interface {
	Dispatch(ctx context.Context, p delivery.Push) error
}

// Gateway keeps verified push configs per task and turns task changes into signed pushes
type Gateway struct {
	verifier   *Verifier
	signer     *auth.Signer
	dispatcher Dispatcher

	mu      sync.RWMutex
	configs map[string]*a2a.PushNotificationConfig
}

func NewGateway(verifier *Verifier, signer *auth.Signer, dispatcher Dispatcher) *Gateway {
	return &Gateway{
		verifier:   verifier,
		signer:     signer,
		dispatcher: dispatcher,
		configs:    make(map[string]*a2a.PushNotificationConfig),
	}
}

// Register verifies cfg.URL and stores cfg for taskID. Nothing is stored when verification fails.
func (g *Gateway) Register(ctx context.Context, taskID string, cfg *a2a.PushNotificationConfig) bool {
	if cfg == nil || cfg.URL == "" {
		return false
	}
	if !g.verifier.VerifyOwnership(ctx, cfg.URL) {
		return false
	}

	g.mu.Lock()
	g.configs[taskID] = cfg.Clone()
	g.mu.Unlock()

	logging.WithContext(ctx).WithTask(taskID).WithField("url", cfg.URL).Info("push notification registered")
	return true
}

// Config returns a copy of the push config registered for taskID
func (g *Gateway) Config(taskID string) (*a2a.PushNotificationConfig, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cfg, ok := g.configs[taskID]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// Notify pushes a snapshot of task to its registered webhook, if any.
// Failures are logged and counted; the caller never sees them.
func (g *Gateway) Notify(ctx context.Context, task *a2a.Task) {
	if task == nil {
		return
	}
	cfg, ok := g.Config(task.ID)
	if !ok {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "push.notify",
		tracing.AttrTaskID.String(task.ID),
		tracing.AttrTaskState.String(string(task.Status.State)),
		tracing.AttrPushURL.String(cfg.URL),
	)
	defer span.End()
	log := logging.WithContext(ctx).WithTask(task.ID)

	body, err := json.Marshal(task)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("marshal push body failed")
		metrics.RecordPushDelivery("other", 0)
		return
	}
	token, err := g.signer.Sign(body)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("sign push failed")
		metrics.RecordPushDelivery("other", 0)
		return
	}

	p := delivery.Push{
		DeliveryID:    uuid.NewString(),
		TaskID:        task.ID,
		State:         string(task.Status.State),
		URL:           cfg.URL,
		Token:         cfg.Token,
		Authorization: "Bearer " + token,
		Body:          body,
		PublishedAt:   time.Now().UTC().Format(time.RFC3339),
		TraceHeaders:  tracing.InjectHeaders(ctx),
	}
	if err := g.dispatcher.Dispatch(ctx, p); err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithDelivery(p.DeliveryID).WithError(err).Error("dispatch push failed")
		metrics.RecordPushDelivery("dispatch_error", 0)
	}
}
