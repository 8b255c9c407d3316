package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// Client calls an A2A JSON-RPC endpoint
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
}

// NewClient returns a client for the endpoint at url. A nil hc uses http.DefaultClient.
func NewClient(url string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{url: url, http: hc}
}

func (c *Client) newRequest(ctx context.Context, method string, params any, accept string) (*http.Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	body, err := json.Marshal(Request{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(c.nextID.Add(1), 10)),
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	tracing.InjectHTTP(ctx, req.Header)
	return req, nil
}

// Call performs a unary call and decodes the result into result. Protocol
// errors come back as *a2a.Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	req, err := c.newRequest(ctx, method, params, "application/json")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var out rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%s: decode response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if out.Error != nil {
		return out.Error
	}
	if result == nil || len(out.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// stream performs a streaming call. An error frame ends the sequence with that error.
func (c *Client) stream(ctx context.Context, method string, params any) iter.Seq2[a2a.Event, error] {
	return func(yield func(a2a.Event, error) bool) {
		req, err := c.newRequest(ctx, method, params, ContentEventStream)
		if err != nil {
			yield(nil, err)
			return
		}
		resp, err := c.http.Do(req)
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", method, err))
			return
		}
		defer resp.Body.Close()

		mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if mediaType != ContentEventStream {
			yield(nil, unexpectedBody(method, resp))
			return
		}

		for data, err := range ParseDataStream(resp.Body) {
			if err != nil {
				yield(nil, err)
				return
			}
			var frame rawResponse
			if err := json.Unmarshal(data, &frame); err != nil {
				yield(nil, fmt.Errorf("%s: decode frame: %w", method, err))
				return
			}
			if frame.Error != nil {
				yield(nil, frame.Error)
				return
			}
			ev, err := a2a.UnmarshalEvent(frame.Result)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) || ev.IsFinal() {
				return
			}
		}
	}
}

// unexpectedBody turns a non-SSE answer to a streaming call into an error
func unexpectedBody(method string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out rawResponse
	if json.Unmarshal(body, &out) == nil && out.Error != nil {
		return out.Error
	}
	return fmt.Errorf("%s: unexpected response (HTTP %d): %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *Client) SendTask(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.Call(ctx, MethodSend, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) GetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.Call(ctx, MethodGet, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.Call(ctx, MethodCancel, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) SetPushNotification(ctx context.Context, params a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	var cfg a2a.TaskPushNotificationConfig
	if err := c.Call(ctx, MethodPushNotificationSet, params, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) GetPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error) {
	var cfg a2a.TaskPushNotificationConfig
	if err := c.Call(ctx, MethodPushNotificationGet, params, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SendTaskSubscribe sends a message and yields the task's events until the final one
func (c *Client) SendTaskSubscribe(ctx context.Context, params a2a.TaskSendParams) iter.Seq2[a2a.Event, error] {
	return c.stream(ctx, MethodSendSubscribe, params)
}

// Resubscribe reattaches to a task's live events
func (c *Client) Resubscribe(ctx context.Context, params a2a.TaskQueryParams) iter.Seq2[a2a.Event, error] {
	return c.stream(ctx, MethodResubscribe, params)
}

// FetchAgentCard reads the card published under baseURL
func FetchAgentCard(ctx context.Context, hc *http.Client, baseURL string) (*AgentCard, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+AgentCardPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch agent card: HTTP %d", resp.StatusCode)
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	return &card, nil
}
