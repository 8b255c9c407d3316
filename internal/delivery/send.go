package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// Result is the outcome of a single push attempt
type Result struct {
	HTTPStatus int
	Latency    time.Duration
	Err        error
}

// OK reports whether the receiver accepted the push
func (r Result) OK() bool {
	return r.Err == nil && r.HTTPStatus >= 200 && r.HTTPStatus < 300
}

// Reason classifies a failed attempt for metrics and dead letters
func (r Result) Reason() string {
	if r.OK() {
		return "delivered"
	}
	return ClassifyReason(r.Err, r.HTTPStatus)
}

// Sender performs exactly one POST per push. It never retries.
type Sender struct {
	Client      *http.Client
	TokenHeader string // header carrying Push.Token
}

// NewSender returns a sender with the given per-request timeout
func NewSender(timeout time.Duration, tokenHeader string) *Sender {
	return &Sender{Client: &http.Client{Timeout: timeout}, TokenHeader: tokenHeader}
}

// Send POSTs p.Body to p.URL
func (s *Sender) Send(ctx context.Context, p Push) Result {
	ctx, span := tracing.StartSpan(ctx, "push.send",
		attribute.String("delivery_id", p.DeliveryID),
		tracing.AttrTaskID.String(p.TaskID),
		tracing.AttrTaskState.String(p.State),
		tracing.AttrPushURL.String(p.URL),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(p.Body))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Authorization != "" {
		req.Header.Set("Authorization", p.Authorization)
	}
	if p.Token != "" && s.TokenHeader != "" {
		req.Header.Set(s.TokenHeader, p.Token)
	}
	tracing.InjectHTTP(ctx, req.Header)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, doErr := s.Client.Do(req)
	res := Result{Latency: time.Since(start), Err: doErr}
	if doErr == nil {
		res.HTTPStatus = resp.StatusCode
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}

	span.SetAttributes(
		attribute.Int("http.status_code", res.HTTPStatus),
		attribute.Int64("http.latency_ms", res.Latency.Milliseconds()),
	)
	if !res.OK() {
		span.SetAttributes(attribute.String("failure_reason", res.Reason()))
		if doErr != nil {
			tracing.SetSpanError(ctx, doErr)
		}
	}
	return res
}

// ErrString returns err's message, or "" for nil
func ErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ClassifyReason buckets a transport error or HTTP status
func ClassifyReason(err error, status int) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return "timeout"
		case strings.Contains(msg, "connection refused"):
			return "connection_refused"
		case strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
			return "dns_error"
		}
		return "network"
	}
	switch {
	case status >= 500:
		return "http_5xx"
	case status == http.StatusTooManyRequests:
		return "http_429"
	case status >= 400:
		return "http_4xx"
	}
	return "other"
}
