package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/austindbirch/harbor_agent/internal/auth"
	"github.com/austindbirch/harbor_agent/internal/config"
)

const taskBody = `{"id":"t1","sessionId":"s1","status":{"state":"completed","message":{"role":"agent","parts":[{"type":"text","text":"1 USD = 0.92 EUR"}]}}}`

func testKeys(t *testing.T) (*auth.Signer, *auth.PushVerifier) {
	t.Helper()
	kp, _, err := auth.LoadOrGenerateKey("", "test-key")
	if err != nil {
		t.Fatal(err)
	}
	set, err := kp.PublicSet()
	if err != nil {
		t.Fatal(err)
	}
	jwks := httptest.NewServer(auth.JWKSHandler(set))
	t.Cleanup(jwks.Close)
	return auth.NewSigner(kp), auth.NewPushVerifier(jwks.URL, config.FromEnv().Receiver.IATLeeway)
}

func TestChallenge(t *testing.T) {
	_, verifier := testKeys(t)
	rc := &receiver{}
	h := rc.routes(verifier)

	req := httptest.NewRequest(http.MethodGet, "/hook?validationToken=abc-123", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "abc-123" {
		t.Errorf("body = %q, want the echoed token", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hook", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET without a token status = %d, want 405", w.Code)
	}
}

func TestHandlePush(t *testing.T) {
	signer, verifier := testKeys(t)

	tests := []struct {
		name                 string
		body                 string
		signBody             string // body the JWT is bound to; empty means no Authorization header
		failFirstN           int
		expectedStatus       int
		expectedBodyContains string
	}{
		{
			name:                 "signed push",
			body:                 taskBody,
			signBody:             taskBody,
			expectedStatus:       http.StatusOK,
			expectedBodyContains: "ok",
		},
		{
			name:                 "fail first push",
			body:                 taskBody,
			signBody:             taskBody,
			failFirstN:           1,
			expectedStatus:       http.StatusServiceUnavailable,
			expectedBodyContains: "temporary failure",
		},
		{
			name:                 "missing token",
			body:                 taskBody,
			expectedStatus:       http.StatusUnauthorized,
			expectedBodyContains: "invalid push token",
		},
		{
			name:                 "tampered body",
			body:                 strings.Replace(taskBody, "0.92", "9.20", 1),
			signBody:             taskBody,
			expectedStatus:       http.StatusUnauthorized,
			expectedBodyContains: "invalid push token",
		},
		{
			name:                 "signed but not a task",
			body:                 "[1,2,3]",
			signBody:             "[1,2,3]",
			expectedStatus:       http.StatusBadRequest,
			expectedBodyContains: "not a task",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := &receiver{cfg: config.Receiver{FailFirstN: tt.failFirstN}, tokenHeader: "X-A2A-Notification-Token"}
			h := rc.routes(verifier)

			req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.signBody != "" {
				jwt, err := signer.Sign([]byte(tt.signBody))
				if err != nil {
					t.Fatalf("Sign() error: %v", err)
				}
				req.Header.Set("Authorization", "Bearer "+jwt)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d (body %q)", w.Code, tt.expectedStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.expectedBodyContains) {
				t.Errorf("body = %q, want it to contain %q", w.Body.String(), tt.expectedBodyContains)
			}
		})
	}
}

func TestHandlePush_FailFirstNThenSucceeds(t *testing.T) {
	signer, verifier := testKeys(t)
	rc := &receiver{cfg: config.Receiver{FailFirstN: 2}}
	h := rc.routes(verifier)

	var codes []int
	for range 3 {
		jwt, err := signer.Sign([]byte(taskBody))
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(taskBody))
		req.Header.Set("Authorization", "Bearer "+jwt)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestHealthz(t *testing.T) {
	_, verifier := testKeys(t)
	h := (&receiver{}).routes(verifier)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Errorf("healthz body = %q", w.Body.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		length   int
		expected string
	}{
		{input: "short", length: 10, expected: "short"},
		{input: "exactly10!", length: 10, expected: "exactly10!"},
		{input: "this is longer", length: 4, expected: "this..."},
		{input: "", length: 3, expected: ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.length); got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.length, got, tt.expected)
		}
	}
}
