package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/auth"
	"github.com/austindbirch/harbor_agent/internal/config"
	"github.com/austindbirch/harbor_agent/internal/health"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/notify"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

const serviceName = "webhook-receiver"

// receiver is a demo push endpoint. It answers ownership challenges, checks
// each push's JWT against the agent's JWKS and can simulate a flaky consumer.
type receiver struct {
	cfg         config.Receiver
	tokenHeader string
	reqCount    atomic.Int64
}

func (rc *receiver) routes(verifier *auth.PushVerifier) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler())
	mux.Handle("/hook", rc.challenge(verifier.Middleware(http.HandlerFunc(rc.handlePush))))
	return mux
}

// challenge echoes the validation token so the agent can verify ownership of the URL
func (rc *receiver) challenge(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get(notify.ValidationTokenParam)
		if r.Method == http.MethodGet && token != "" {
			logging.Plain().WithField("token", token).Info("answering push url challenge")
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, token)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rc *receiver) handlePush(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	ctx := tracing.ExtractHTTP(r.Context(), r.Header)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	// Simulate flakiness: first N pushes -> 503
	if n <= int64(rc.cfg.FailFirstN) {
		logging.WithContext(ctx).WithFields(map[string]any{
			"request": n,
			"fail_n":  rc.cfg.FailFirstN,
		}).Warn("failing push on purpose")
		http.Error(w, "temporary failure", http.StatusServiceUnavailable)
		return
	}
	if rc.cfg.ResponseDelayMS > 0 {
		select {
		case <-time.After(time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	var task a2a.Task
	if err := json.Unmarshal(b, &task); err != nil {
		logging.WithContext(ctx).WithError(err).WithField("body", truncate(string(b), 160)).Warn("push body is not a task")
		http.Error(w, "body is not a task", http.StatusBadRequest)
		return
	}
	logging.WithContext(ctx).WithTask(task.ID).WithSession(task.SessionID).WithFields(map[string]any{
		"state":        task.Status.State,
		"token":        r.Header.Get(rc.tokenHeader),
		"status_text":  truncate(task.Status.Message.Text(), 160),
		"delivered_at": time.Now().UTC().Format(time.RFC3339),
	}).Info("push received")

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

func main() {
	cfg := config.FromEnv()
	logging.SetDefaultService(serviceName)
	logger := logging.New(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := &receiver{cfg: cfg.Receiver, tokenHeader: cfg.Push.NotifyHeader}
	verifier := auth.NewPushVerifier(cfg.Receiver.JWKSURL, cfg.Receiver.IATLeeway)

	srv := &http.Server{
		Addr:         cfg.Receiver.Port,
		Handler:      rc.routes(verifier),
		ReadTimeout:  cfg.Receiver.ReadTimeout,
		WriteTimeout: cfg.Receiver.WriteTimeout,
		IdleTimeout:  cfg.Receiver.IdleTimeout,
	}
	go func() {
		logger.Plain().WithFields(map[string]any{
			"addr":         srv.Addr,
			"jwks_url":     cfg.Receiver.JWKSURL,
			"fail_first_n": cfg.Receiver.FailFirstN,
		}).Info("webhook-receiver listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("webhook-receiver failed")
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	logger.Plain().Info("webhook-receiver stopped")
}
