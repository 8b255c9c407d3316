// Package grpcapi exposes the task manager as the gRPC service
// harbor.agent.v1.TaskService. Requests and responses are google.protobuf.Struct
// values carrying the same JSON shapes the JSON-RPC transport uses.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "harbor.agent.v1.TaskService"

// Full method names
const (
	SendTaskMethod          = "/" + ServiceName + "/SendTask"
	GetTaskMethod           = "/" + ServiceName + "/GetTask"
	CancelTaskMethod        = "/" + ServiceName + "/CancelTask"
	SendTaskSubscribeMethod = "/" + ServiceName + "/SendTaskSubscribe"
	ResubscribeMethod       = "/" + ServiceName + "/Resubscribe"
)

// TaskServiceServer is the server API of harbor.agent.v1.TaskService
type TaskServiceServer interface {
	SendTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendTaskSubscribe(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	Resubscribe(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// ServiceDesc describes harbor.agent.v1.TaskService to grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendTask",
			Handler:    unaryHandler(SendTaskMethod, TaskServiceServer.SendTask),
		},
		{
			MethodName: "GetTask",
			Handler:    unaryHandler(GetTaskMethod, TaskServiceServer.GetTask),
		},
		{
			MethodName: "CancelTask",
			Handler:    unaryHandler(CancelTaskMethod, TaskServiceServer.CancelTask),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SendTaskSubscribe",
			Handler:       streamHandler(TaskServiceServer.SendTaskSubscribe),
			ServerStreams: true,
		},
		{
			StreamName:    "Resubscribe",
			Handler:       streamHandler(TaskServiceServer.Resubscribe),
			ServerStreams: true,
		},
	},
	Metadata: "harbor/agent/v1/task_service.proto",
}

// RegisterTaskServiceServer attaches srv to s
func RegisterTaskServiceServer(s grpc.ServiceRegistrar, srv TaskServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryFunc func(TaskServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TaskServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TaskServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type streamFunc func(TaskServiceServer, *structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error

func streamHandler(call streamFunc) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(TaskServiceServer), in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
	}
}
