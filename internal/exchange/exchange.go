// Package exchange looks up currency exchange rates from a Frankfurter-compatible API.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// Rates is the upstream response body
type Rates struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

var ErrMalformedResponse = errors.New("invalid API response format")

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the rates from one currency to another on date ("latest" or YYYY-MM-DD)
func (c *Client) Lookup(ctx context.Context, from, to, date string) (*Rates, error) {
	ctx, span := tracing.StartSpan(ctx, "exchange.lookup")
	defer span.End()

	u := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(date), url.Values{"from": {from}, "to": {to}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("API request failed: status %d", resp.StatusCode)
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	var rates Rates
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return nil, fmt.Errorf("invalid JSON response from API: %w", err)
	}
	if rates.Rates == nil {
		return nil, ErrMalformedResponse
	}
	return &rates, nil
}

// Rate answers a rate question in the form the model consumes. Failures come
// back as a JSON error object instead of a Go error so the model can explain them.
func (c *Client) Rate(ctx context.Context, from, to, date string) string {
	if from == "" {
		from = "USD"
	}
	if to == "" {
		to = "EUR"
	}
	if date == "" {
		date = "latest"
	}

	rates, err := c.Lookup(ctx, from, to, date)
	if err != nil {
		return errorJSON(err.Error())
	}
	rate, ok := rates.Rates[to]
	if !ok {
		return errorJSON(fmt.Sprintf("no rate for %s in API response", to))
	}
	return fmt.Sprintf("The exchange rate from %s to %s is %s.", from, to, strconv.FormatFloat(rate, 'f', -1, 64))
}

func errorJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
