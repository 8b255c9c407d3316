package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testKey(t *testing.T, kid string) *KeyPair {
	t.Helper()
	kp, generated, err := LoadOrGenerateKey("", kid)
	if err != nil {
		t.Fatalf("LoadOrGenerateKey() error: %v", err)
	}
	if !generated {
		t.Fatal("LoadOrGenerateKey(\"\") should generate")
	}
	return kp
}

func jwksServer(t *testing.T, kp *KeyPair) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	set, err := kp.PublicSet()
	if err != nil {
		t.Fatalf("PublicSet() error: %v", err)
	}
	var hits atomic.Int32
	h := JWKSHandler(set)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestLoadOrGenerateKey(t *testing.T) {
	kp := testKey(t, "k1")
	pemText := EncodePrivateKeyPEM(kp.Private)

	tests := []struct {
		name        string
		pem         string
		kid         string
		expectError bool
	}{
		{name: "round trips a PKCS1 key", pem: pemText, kid: "k1"},
		{name: "rejects garbage", pem: "not a key", kid: "k1", expectError: true},
		{name: "requires a key id", pem: pemText, kid: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, generated, err := LoadOrGenerateKey(tt.pem, tt.kid)
			if tt.expectError {
				if err == nil {
					t.Error("LoadOrGenerateKey() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadOrGenerateKey() error: %v", err)
			}
			if generated {
				t.Error("LoadOrGenerateKey() generated despite PEM input")
			}
			if !got.Private.Equal(kp.Private) {
				t.Error("loaded key differs from the encoded one")
			}
		})
	}
}

func TestJWKSHandler(t *testing.T) {
	kp := testKey(t, "harbor-agent-1")
	srv, _ := jwksServer(t, kp)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET jwks: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(doc.Keys))
	}
	key := doc.Keys[0]
	want := map[string]string{"kty": "RSA", "kid": "harbor-agent-1", "use": "sig", "alg": "RS256"}
	for field, value := range want {
		if key[field] != value {
			t.Errorf("jwk[%s] = %v, want %s", field, key[field], value)
		}
	}
	if key["n"] == nil || key["e"] == nil {
		t.Error("jwk is missing modulus or exponent")
	}
	if _, ok := key["d"]; ok {
		t.Error("jwk leaks the private exponent")
	}

	post, err := http.Post(srv.URL, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", post.StatusCode)
	}
}

func TestSignAndVerify(t *testing.T) {
	kp := testKey(t, "k1")
	srv, _ := jwksServer(t, kp)
	body := []byte(`{"id":"t1","status":{"state":"completed"}}`)

	signer := NewSigner(kp)
	now := time.Now()

	tests := []struct {
		name    string
		signAt  time.Time
		header  func(token string) string
		body    []byte
		wantErr error
	}{
		{
			name:   "valid token",
			signAt: now,
			header: func(tok string) string { return "Bearer " + tok },
			body:   body,
		},
		{
			name:    "missing bearer prefix",
			signAt:  now,
			header:  func(tok string) string { return tok },
			body:    body,
			wantErr: ErrMissingToken,
		},
		{
			name:    "tampered body",
			signAt:  now,
			header:  func(tok string) string { return "Bearer " + tok },
			body:    []byte(`{"id":"t1","status":{"state":"failed"}}`),
			wantErr: ErrBodyMismatch,
		},
		{
			name:    "stale token",
			signAt:  now.Add(-10 * time.Minute),
			header:  func(tok string) string { return "Bearer " + tok },
			body:    body,
			wantErr: ErrStaleToken,
		},
		{
			name:    "token from the future",
			signAt:  now.Add(10 * time.Minute),
			header:  func(tok string) string { return "Bearer " + tok },
			body:    body,
			wantErr: ErrStaleToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer.now = func() time.Time { return tt.signAt }
			token, err := signer.Sign(body)
			if err != nil {
				t.Fatalf("Sign() error: %v", err)
			}

			v := NewPushVerifier(srv.URL, 5*time.Minute)
			err = v.Verify(context.Background(), tt.header(token), tt.body)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Verify() error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_UnknownKeyRefetchesOnce(t *testing.T) {
	published := testKey(t, "published")
	srv, hits := jwksServer(t, published)

	rogue := testKey(t, "rogue")
	body := []byte(`{}`)
	token, err := NewSigner(rogue).Sign(body)
	if err != nil {
		t.Fatal(err)
	}

	v := NewPushVerifier(srv.URL, time.Minute)
	err = v.Verify(context.Background(), "Bearer "+token, body)
	if !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Verify() error = %v, want ErrUnknownKey", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("jwks fetched %d times, want 2 (initial + one refetch)", got)
	}
}

func TestVerify_CachesKeys(t *testing.T) {
	kp := testKey(t, "k1")
	srv, hits := jwksServer(t, kp)
	signer := NewSigner(kp)
	v := NewPushVerifier(srv.URL, time.Minute)

	for i := range 3 {
		body := []byte(strings.Repeat("x", i+1))
		tok, err := signer.Sign(body)
		if err != nil {
			t.Fatal(err)
		}
		if err := v.Verify(context.Background(), "Bearer "+tok, body); err != nil {
			t.Fatalf("Verify() #%d error: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("jwks fetched %d times, want 1", got)
	}
}

func TestMiddleware(t *testing.T) {
	kp := testKey(t, "k1")
	srv, _ := jwksServer(t, kp)
	v := NewPushVerifier(srv.URL, time.Minute)

	var seen string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))

	body := `{"id":"t1"}`
	tok, err := NewSigner(kp).Sign([]byte(body))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{name: "valid", auth: "Bearer " + tok, wantStatus: http.StatusNoContent},
		{name: "missing", auth: "", wantStatus: http.StatusUnauthorized},
		{name: "garbage", auth: "Bearer not.a.jwt", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusNoContent && seen != body {
				t.Errorf("handler saw body %q, want %q", seen, body)
			}
		})
	}
}

func TestBodyHash(t *testing.T) {
	// sha256 of the empty string
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := BodyHash(nil); got != empty {
		t.Errorf("BodyHash(nil) = %s, want %s", got, empty)
	}
}
