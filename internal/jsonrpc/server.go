package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

// TaskHandler is the task manager as seen by the transports. *taskmanager.Manager satisfies it.
type TaskHandler interface {
	HandleSend(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, error)
	HandleStreamingSend(ctx context.Context, params a2a.TaskSendParams) (iter.Seq[a2a.Event], error)
	HandleResubscribe(ctx context.Context, params a2a.TaskQueryParams) (iter.Seq[a2a.Event], error)
	HandleGetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error)
	HandleCancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error)
	HandleSetPushNotification(ctx context.Context, params a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error)
	HandleGetPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error)
}

const defaultMaxBody = 1 << 20

// Server is an http.Handler speaking A2A JSON-RPC on POST
type Server struct {
	tasks     TaskHandler
	keepAlive time.Duration
	maxBody   int64
}

type Option func(*Server)

// WithKeepAlive writes a comment frame on idle streams every d. Zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

// WithMaxBody caps the request body size
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

func NewServer(tasks TaskHandler, opts ...Option) *Server {
	s := &Server{tasks: tasks, maxBody: defaultMaxBody}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := tracing.ExtractHTTP(r.Context(), r.Header)

	if r.Method != http.MethodPost {
		s.writeError(ctx, w, nil, "unknown", a2a.ErrInvalidRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		s.writeError(ctx, w, nil, "unknown", a2a.ErrInvalidRequest)
		return
	}
	if int64(len(body)) > s.maxBody {
		s.writeError(ctx, w, nil, "unknown", a2a.NewInvalidParamsError("request body too large"))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(ctx, w, nil, "unknown", a2a.ErrParse)
		return
	}
	if !validID(req.ID) {
		s.writeError(ctx, w, nil, "unknown", a2a.ErrInvalidRequest)
		return
	}
	if req.JSONRPC != Version || req.Method == "" {
		s.writeError(ctx, w, req.ID, "unknown", a2a.ErrInvalidRequest)
		return
	}

	ctx, span := tracing.StartSpan(ctx, "jsonrpc "+methodLabel(req.Method), tracing.AttrMethod.String(req.Method))
	defer span.End()

	switch req.Method {
	case MethodSendSubscribe, MethodResubscribe:
		s.serveStream(ctx, w, &req)
	default:
		s.serveUnary(ctx, w, &req)
	}
}

func (s *Server) serveUnary(ctx context.Context, w http.ResponseWriter, req *Request) {
	result, err := s.call(ctx, req)
	if err != nil {
		s.writeError(ctx, w, req.ID, req.Method, err)
		return
	}
	metrics.RecordRequest("jsonrpc", methodLabel(req.Method), "ok")
	writeJSON(ctx, w, Response{JSONRPC: Version, ID: req.ID, Result: result})
}

func (s *Server) call(ctx context.Context, req *Request) (any, error) {
	switch req.Method {
	case MethodSend:
		var p a2a.TaskSendParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.tasks.HandleSend(ctx, p)
	case MethodGet:
		var p a2a.TaskQueryParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.tasks.HandleGetTask(ctx, p)
	case MethodCancel:
		var p a2a.TaskIDParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.tasks.HandleCancelTask(ctx, p)
	case MethodPushNotificationSet:
		var p a2a.TaskPushNotificationConfig
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.tasks.HandleSetPushNotification(ctx, p)
	case MethodPushNotificationGet:
		var p a2a.TaskIDParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.tasks.HandleGetPushNotification(ctx, p)
	}
	return nil, a2a.ErrMethodNotFound
}

func (s *Server) openStream(ctx context.Context, req *Request) (iter.Seq[a2a.Event], error) {
	switch req.Method {
	case MethodSendSubscribe:
		var p a2a.TaskSendParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.tasks.HandleStreamingSend(ctx, p)
	case MethodResubscribe:
		var p a2a.TaskQueryParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.tasks.HandleResubscribe(ctx, p)
	}
	return nil, a2a.ErrMethodNotFound
}

// serveStream answers with a JSON error when the stream cannot be opened and
// switches to SSE otherwise. Each event is framed as a full JSON-RPC response.
func (s *Server) serveStream(ctx context.Context, w http.ResponseWriter, req *Request) {
	sw, err := newSSEWriter(w)
	if err != nil {
		s.writeError(ctx, w, req.ID, req.Method, a2a.NewInternalError(err.Error()))
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.openStream(streamCtx, req)
	if err != nil {
		s.writeError(ctx, w, req.ID, req.Method, err)
		return
	}
	metrics.RecordRequest("jsonrpc", methodLabel(req.Method), "ok")
	sw.writeHeaders()

	// The pump lets keep-alives interleave with a blocking event sequence.
	frames := make(chan a2a.Event)
	go func() {
		defer close(frames)
		for ev := range events {
			select {
			case frames <- ev:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	log := logging.WithContext(ctx).WithMethod(req.Method)
	for {
		select {
		case <-streamCtx.Done():
			return
		case <-tick:
			if err := sw.writeKeepAlive(); err != nil {
				log.WithError(err).Debug("keep-alive write failed")
				return
			}
		case ev, ok := <-frames:
			if !ok {
				return
			}
			data, err := json.Marshal(eventResponse(req.ID, ev))
			if err != nil {
				log.WithError(err).Error("encode stream event")
				return
			}
			if err := sw.writeData(data); err != nil {
				log.WithTask(ev.GetTaskID()).WithError(err).Debug("client went away")
				return
			}
		}
	}
}

// eventResponse frames ev. A status event that ended a failed run is sent as an error response.
func eventResponse(id json.RawMessage, ev a2a.Event) Response {
	if st, ok := ev.(*a2a.TaskStatusUpdateEvent); ok && st.Err != nil {
		return Response{JSONRPC: Version, ID: id, Error: st.Err}
	}
	return Response{JSONRPC: Version, ID: id, Result: ev}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return a2a.NewInvalidParamsError("params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return a2a.NewInvalidParamsError(fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, id json.RawMessage, method string, err error) {
	rpcErr := a2a.AsError(err)
	metrics.RecordRequest("jsonrpc", methodLabel(method), strconv.Itoa(rpcErr.Code))

	entry := logging.WithContext(ctx).WithMethod(method).WithField("code", rpcErr.Code).WithError(err)
	if errors.Is(rpcErr, a2a.ErrInternal) {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(ctx, w, Response{JSONRPC: Version, ID: id, Error: rpcErr})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.WithContext(ctx).WithError(err).Warn("write response")
	}
}
