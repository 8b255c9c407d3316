package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/austindbirch/harbor_agent/internal/a2a"
	"github.com/austindbirch/harbor_agent/internal/logging"
)

// Tasks is the slice of the task manager served over gRPC
type Tasks interface {
	HandleSend(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, error)
	HandleStreamingSend(ctx context.Context, params a2a.TaskSendParams) (iter.Seq[a2a.Event], error)
	HandleResubscribe(ctx context.Context, params a2a.TaskQueryParams) (iter.Seq[a2a.Event], error)
	HandleGetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error)
	HandleCancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error)
}

// Service implements TaskServiceServer on top of Tasks
type Service struct {
	tasks Tasks
}

func NewService(tasks Tasks) *Service {
	return &Service{tasks: tasks}
}

var _ TaskServiceServer = (*Service)(nil)

func (s *Service) SendTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.TaskSendParams
	if err := fromStruct(in, &params); err != nil {
		return nil, ToStatus(err)
	}
	task, err := s.tasks.HandleSend(ctx, params)
	return respond(task, err)
}

func (s *Service) GetTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.TaskQueryParams
	if err := fromStruct(in, &params); err != nil {
		return nil, ToStatus(err)
	}
	task, err := s.tasks.HandleGetTask(ctx, params)
	return respond(task, err)
}

func (s *Service) CancelTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.TaskIDParams
	if err := fromStruct(in, &params); err != nil {
		return nil, ToStatus(err)
	}
	task, err := s.tasks.HandleCancelTask(ctx, params)
	return respond(task, err)
}

func (s *Service) SendTaskSubscribe(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var params a2a.TaskSendParams
	if err := fromStruct(in, &params); err != nil {
		return ToStatus(err)
	}
	events, err := s.tasks.HandleStreamingSend(stream.Context(), params)
	if err != nil {
		return ToStatus(err)
	}
	return forward(stream, events)
}

func (s *Service) Resubscribe(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var params a2a.TaskQueryParams
	if err := fromStruct(in, &params); err != nil {
		return ToStatus(err)
	}
	events, err := s.tasks.HandleResubscribe(stream.Context(), params)
	if err != nil {
		return ToStatus(err)
	}
	return forward(stream, events)
}

// forward sends each event as a Struct. A failed run ends the stream with its error status.
func forward(stream grpc.ServerStreamingServer[structpb.Struct], events iter.Seq[a2a.Event]) error {
	for ev := range events {
		if st, ok := ev.(*a2a.TaskStatusUpdateEvent); ok && st.Err != nil {
			return ToStatus(st.Err)
		}
		msg, err := toStruct(ev)
		if err != nil {
			return ToStatus(err)
		}
		if err := stream.Send(msg); err != nil {
			logging.WithContext(stream.Context()).WithTask(ev.GetTaskID()).WithError(err).Debug("stream send failed")
			return err
		}
	}
	return stream.Context().Err()
}

func respond(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, ToStatus(err)
	}
	out, err := toStruct(v)
	if err != nil {
		return nil, ToStatus(err)
	}
	return out, nil
}

// toStruct converts any JSON-serializable value into a Struct
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("convert payload: %w", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into v. Malformed payloads are invalid params.
func fromStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return a2a.NewInvalidParamsError(fmt.Sprintf("invalid payload: %v", err))
	}
	if err := json.Unmarshal(b, v); err != nil {
		return a2a.NewInvalidParamsError(fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}

func toJSON(s *structpb.Struct) ([]byte, error) {
	b, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("convert payload: %w", err)
	}
	return b, nil
}
