package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type Status struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Checks  map[string]bool `json:"checks,omitempty"`
}

// Check is one dependency probed on every health request
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBCheck probes the ledger database
func DBCheck(p Pinger) Check {
	return Check{Name: "database", Ping: p.Ping}
}

// QueuePinger is satisfied by *nsq.Producer
type QueuePinger interface {
	Ping() error
}

// QueueCheck probes the nsqd the push dispatcher publishes to
func QueueCheck(p QueuePinger) Check {
	return Check{Name: "nsqd", Ping: func(context.Context) error { return p.Ping() }}
}

// HTTPHandler returns an HTTP handler that reports the health status of the service.
// With no checks the process is healthy as long as it answers.
func HTTPHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}

		if len(checks) > 0 {
			st.Checks = make(map[string]bool, len(checks))
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			defer cancel()
			for _, c := range checks {
				ok := c.Ping(ctx) == nil
				st.Checks[c.Name] = ok
				if !ok {
					st.OK = false
					st.Message = c.Name + " ping failed"
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
