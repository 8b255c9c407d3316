package notify

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// ValidationTokenParam is the query parameter carrying the ownership challenge
const ValidationTokenParam = "validationToken"

// Verifier runs the ownership challenge against a webhook URL
type Verifier struct {
	client *http.Client
}

// NewVerifier returns a verifier whose challenge gives up after timeout
func NewVerifier(timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{client: &http.Client{Timeout: timeout}}
}

// VerifyOwnership GETs rawURL with a fresh validation token and succeeds only
// when the receiver answers 2xx with the token as its body. Any error fails closed.
func (v *Verifier) VerifyOwnership(ctx context.Context, rawURL string) (verified bool) {
	ctx, span := tracing.StartSpan(ctx, "push.verify_ownership", tracing.AttrPushURL.String(rawURL))
	defer span.End()
	defer func() { metrics.RecordVerification(verified) }()

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		logging.WithContext(ctx).WithField("url", rawURL).Warn("push url is not an absolute http(s) url")
		return false
	}

	token := uuid.NewString()
	q := u.Query()
	q.Set(ValidationTokenParam, token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		logging.WithContext(ctx).WithField("url", rawURL).WithError(err).Warn("push url verification failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.WithContext(ctx).WithFields(map[string]any{
			"url":         rawURL,
			"http_status": resp.StatusCode,
		}).Warn("push url rejected the validation challenge")
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(body)) == token
}
