package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Rate(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		from, to  string
		date      string
		wantPath  string
		want      string
		wantError bool
	}{
		{
			name: "latest rate",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"amount":1.0,"base":"USD","date":"2025-01-02","rates":{"GBP":0.79}}`))
			},
			from: "USD", to: "GBP",
			wantPath: "/latest",
			want:     "The exchange rate from USD to GBP is 0.79.",
		},
		{
			name: "historical rate",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"amount":1.0,"base":"EUR","date":"2024-03-01","rates":{"JPY":162.5}}`))
			},
			from: "EUR", to: "JPY", date: "2024-03-01",
			wantPath: "/2024-03-01",
			want:     "The exchange rate from EUR to JPY is 162.5.",
		},
		{
			name: "defaults",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.92}}`))
			},
			wantPath: "/latest",
			want:     "The exchange rate from USD to EUR is 0.92.",
		},
		{
			name: "upstream error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			from: "USD", to: "XXX",
			wantPath:  "/latest",
			wantError: true,
		},
		{
			name: "missing rates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"message":"not found"}`))
			},
			from: "USD", to: "GBP",
			wantPath:  "/latest",
			wantError: true,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			from: "USD", to: "GBP",
			wantPath:  "/latest",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
				tt.handler(w, r)
			}))
			defer srv.Close()

			got := NewClient(srv.URL+"/", time.Second).Rate(context.Background(), tt.from, tt.to, tt.date)

			if gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", gotPath, tt.wantPath)
			}
			if !strings.Contains(gotQuery, "from=") || !strings.Contains(gotQuery, "to=") {
				t.Errorf("query = %q, want from and to", gotQuery)
			}
			if tt.wantError {
				var body map[string]string
				if err := json.Unmarshal([]byte(got), &body); err != nil || body["error"] == "" {
					t.Errorf("Rate() = %q, want a JSON error object", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Rate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_LookupHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewClient(srv.URL, 5*time.Second).Lookup(ctx, "USD", "EUR", "latest"); err == nil {
		t.Error("Lookup() expected error after context deadline")
	}
}
