package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/grpcapi"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// taskReader is the read side of the task manager exposed as REST
type taskReader interface {
	HandleGetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error)
	HandleGetPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error)
}

// restRoutes mounts read-only task lookups:
//
//	GET /v1/tasks/{id}?historyLength=N
//	GET /v1/tasks/{id}/pushNotification
func restRoutes(tasks taskReader) (*runtime.ServeMux, error) {
	gw := runtime.NewServeMux()

	err := gw.HandlePath(http.MethodGet, "/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx := tracing.ExtractHTTP(r.Context(), r.Header)
		q := a2a.TaskQueryParams{ID: params["id"]}
		if raw := r.URL.Query().Get("historyLength"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeRESTError(ctx, w, a2a.NewInvalidParamsError("historyLength must be a non-negative integer"))
				return
			}
			q.HistoryLength = &n
		}
		task, err := tasks.HandleGetTask(ctx, q)
		if err != nil {
			writeRESTError(ctx, w, err)
			return
		}
		writeREST(w, http.StatusOK, task)
	})
	if err != nil {
		return nil, err
	}

	err = gw.HandlePath(http.MethodGet, "/v1/tasks/{id}/pushNotification", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		ctx := tracing.ExtractHTTP(r.Context(), r.Header)
		cfg, err := tasks.HandleGetPushNotification(ctx, a2a.TaskIDParams{ID: params["id"]})
		if err != nil {
			writeRESTError(ctx, w, err)
			return
		}
		writeREST(w, http.StatusOK, cfg)
	})
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// writeRESTError maps err through its gRPC status onto an HTTP status
func writeRESTError(ctx context.Context, w http.ResponseWriter, err error) {
	code := runtime.HTTPStatusFromCode(status.Code(grpcapi.ToStatus(err)))
	if code >= http.StatusInternalServerError {
		logging.WithContext(ctx).WithError(err).Error("rest request failed")
	}
	writeREST(w, code, map[string]any{"error": a2a.AsError(err)})
}

func writeREST(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
