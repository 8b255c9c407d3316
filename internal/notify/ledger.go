package notify

import (
	"context"
	"fmt"

	"github.com/austindbirch/harbor_agent/internal/db"
	"github.com/austindbirch/harbor_agent/internal/delivery"
)

// Ledger writes one row per push attempt to harboragent.push_deliveries
type Ledger struct {
	db db.Execer
}

func NewLedger(x db.Execer) *Ledger {
	return &Ledger{db: x}
}

func (l *Ledger) Record(ctx context.Context, p delivery.Push, res delivery.Result) error {
	status := "delivered"
	if !res.OK() {
		status = "failed"
	}
	var httpStatus any
	if res.HTTPStatus > 0 {
		httpStatus = res.HTTPStatus
	}
	var lastErr any
	if res.Err != nil {
		lastErr = res.Err.Error()
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO harboragent.push_deliveries
			(delivery_id, task_id, url, state, status, http_status, latency_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (delivery_id) DO UPDATE
		SET status=$5, http_status=$6, latency_ms=$7, error=$8, attempted_at=now()`,
		p.DeliveryID, p.TaskID, p.URL, p.State, status, httpStatus, int(res.Latency.Milliseconds()), lastErr,
	)
	if err != nil {
		return fmt.Errorf("record delivery %s: %w", p.DeliveryID, err)
	}
	return nil
}
