package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/harbor_agent/internal/delivery"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/notify"
)

const tokenHeader = "X-A2A-Notification-Token"

type fakeDelegate struct {
	finished int
	requeued int
}

func (d *fakeDelegate) OnFinish(*nsq.Message)                        { d.finished++ }
func (d *fakeDelegate) OnRequeue(*nsq.Message, time.Duration, bool) { d.requeued++ }
func (d *fakeDelegate) OnTouch(*nsq.Message)                         {}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	messages [][]byte
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, body)
	return nil
}

type hit struct {
	body  []byte
	token string
	auth  string
}

type receiver struct {
	mu   sync.Mutex
	hits []hit
}

func newReceiver(t *testing.T, status int) (*receiver, *httptest.Server) {
	t.Helper()
	rc := &receiver{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.hits = append(rc.hits, hit{body: b, token: r.Header.Get(tokenHeader), auth: r.Header.Get("Authorization")})
		rc.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return rc, srv
}

func (rc *receiver) received() []hit {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]hit(nil), rc.hits...)
}

func message(t *testing.T, body []byte, attempts uint16) (*nsq.Message, *fakeDelegate) {
	t.Helper()
	d := &fakeDelegate{}
	m := nsq.NewMessage(nsq.MessageID{'a', 'b', 'c'}, body)
	m.Delegate = d
	m.Attempts = attempts
	return m, d
}

func newHandler(dlq notify.Publisher) *pushHandler {
	return &pushHandler{
		ctx:      context.Background(),
		sender:   delivery.NewSender(2*time.Second, tokenHeader),
		recorder: notify.NewRecorder(nil, dlq, "a2a_pushes_dlq"),
	}
}

func pushTo(t *testing.T, url string) []byte {
	t.Helper()
	b, err := json.Marshal(delivery.Push{
		DeliveryID:    "d-1",
		TaskID:        "t1",
		State:         "completed",
		URL:           url,
		Token:         "caller-token",
		Authorization: "Bearer signed.jwt.value",
		Body:          json.RawMessage(`{"id":"t1","status":{"state":"completed"}}`),
		PublishedAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHandleMessage_Delivers(t *testing.T) {
	live, srv := newReceiver(t, http.StatusOK)
	dlq := &fakePublisher{}
	m, d := message(t, pushTo(t, srv.URL), 1)

	if err := newHandler(dlq).HandleMessage(m); err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}

	hits := live.received()
	if d.finished != 1 || d.requeued != 0 {
		t.Errorf("finished=%d requeued=%d, want 1 and 0", d.finished, d.requeued)
	}
	if len(hits) != 1 {
		t.Fatalf("receiver hits = %d, want 1", len(hits))
	}
	rc := hits[0]
	if string(rc.body) != `{"id":"t1","status":{"state":"completed"}}` {
		t.Errorf("body = %s", rc.body)
	}
	if rc.token != "caller-token" || rc.auth != "Bearer signed.jwt.value" {
		t.Errorf("token=%q auth=%q", rc.token, rc.auth)
	}
	if len(dlq.messages) != 0 {
		t.Errorf("delivered push should not reach the DLQ")
	}
}

func TestHandleMessage_FailureIsFinishedNotRetried(t *testing.T) {
	live, srv := newReceiver(t, http.StatusServiceUnavailable)
	dlq := &fakePublisher{}
	m, d := message(t, pushTo(t, srv.URL), 2)

	if err := newHandler(dlq).HandleMessage(m); err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}

	if d.finished != 1 || d.requeued != 0 {
		t.Errorf("finished=%d requeued=%d, want 1 and 0", d.finished, d.requeued)
	}
	if hits := live.received(); len(hits) != 1 {
		t.Errorf("receiver hits = %d, want exactly one attempt", len(hits))
	}
	if len(dlq.messages) != 1 || dlq.topics[0] != "a2a_pushes_dlq" {
		t.Fatalf("dlq = %v, want one dead letter", dlq.topics)
	}
	var dl delivery.DeadLetter
	if err := json.Unmarshal(dlq.messages[0], &dl); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if dl.Reason != "http_5xx" || dl.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("dead letter = %+v", dl)
	}
}

func TestHandleMessage_BadPayload(t *testing.T) {
	dlq := &fakePublisher{}
	m, d := message(t, []byte("{not json"), 1)

	if err := newHandler(dlq).HandleMessage(m); err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if d.finished != 1 || d.requeued != 0 {
		t.Errorf("finished=%d requeued=%d, want 1 and 0", d.finished, d.requeued)
	}
	if len(dlq.messages) != 0 {
		t.Errorf("bad payloads are dropped, not dead-lettered")
	}
}

func TestNsqdHTTPAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "nsqd:4150", want: "nsqd:4151"},
		{in: "127.0.0.1:4150", want: "127.0.0.1:4151"},
		{in: "nsqd:9000", want: "nsqd:9000"},
	}
	for _, tt := range tests {
		if got := nsqdHTTPAddr(tt.in); got != tt.want {
			t.Errorf("nsqdHTTPAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBacklogPoll(t *testing.T) {
	stats := `{"topics":[
		{"topic_name":"a2a_pushes","channels":[{"channel_name":"push-workers","depth":42}]},
		{"topic_name":"a2a_pushes_dlq","channels":[{"channel_name":"inspect","depth":3}]},
		{"topic_name":"unrelated","channels":[{"channel_name":"c","depth":99}]}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" || r.URL.Query().Get("format") != "json" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, stats)
	}))
	defer srv.Close()

	b := newBacklogMonitor("unused:4150", "a2a_pushes", "a2a_pushes_dlq")
	b.statsURL = srv.URL + "/stats?format=json"

	if err := b.poll(context.Background()); err != nil {
		t.Fatalf("poll() error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.PushQueueDepth.WithLabelValues("a2a_pushes", "push-workers")); got != 42 {
		t.Errorf("push depth = %v, want 42", got)
	}
	if got := testutil.ToFloat64(metrics.PushQueueDepth.WithLabelValues("a2a_pushes_dlq", "inspect")); got != 3 {
		t.Errorf("dlq depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.PushQueueDepth.WithLabelValues("unrelated", "c")); got != 0 {
		t.Errorf("unwatched topic depth = %v, want 0", got)
	}
}

func TestBacklogPoll_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("broken") != "" {
			_, _ = io.WriteString(w, "not json")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := newBacklogMonitor("unused:4150", "a2a_pushes")
	for _, url := range []string{srv.URL + "/stats", srv.URL + "/stats?broken=1"} {
		b.statsURL = url
		if err := b.poll(context.Background()); err == nil {
			t.Errorf("poll(%s) expected an error", url)
		}
	}
}
