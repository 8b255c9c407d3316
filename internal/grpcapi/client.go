package grpcapi

import (
	"context"
	"errors"
	"io"
	"iter"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/austindbirch/harbor_agent/internal/a2a"
)

// Client calls harbor.agent.v1.TaskService and speaks a2a types
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, params, result any) error {
	in, err := toStruct(params)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return FromStatus(err)
	}
	return fromStruct(out, result)
}

func (c *Client) SendTask(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.invoke(ctx, SendTaskMethod, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) GetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.invoke(ctx, GetTaskMethod, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.invoke(ctx, CancelTaskMethod, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SendTaskSubscribe sends a message and yields the task's events until the final one
func (c *Client) SendTaskSubscribe(ctx context.Context, params a2a.TaskSendParams) iter.Seq2[a2a.Event, error] {
	return c.stream(ctx, &ServiceDesc.Streams[0], SendTaskSubscribeMethod, params)
}

// Resubscribe reattaches to a task's live events
func (c *Client) Resubscribe(ctx context.Context, params a2a.TaskQueryParams) iter.Seq2[a2a.Event, error] {
	return c.stream(ctx, &ServiceDesc.Streams[1], ResubscribeMethod, params)
}

func (c *Client) stream(ctx context.Context, desc *grpc.StreamDesc, method string, params any) iter.Seq2[a2a.Event, error] {
	return func(yield func(a2a.Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		in, err := toStruct(params)
		if err != nil {
			yield(nil, err)
			return
		}
		cs, err := c.cc.NewStream(ctx, desc, method)
		if err != nil {
			yield(nil, FromStatus(err))
			return
		}
		stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
		if err := stream.SendMsg(in); err != nil {
			yield(nil, FromStatus(err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, FromStatus(err))
			return
		}

		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, FromStatus(err))
				return
			}
			b, err := toJSON(msg)
			if err != nil {
				yield(nil, err)
				return
			}
			ev, err := a2a.UnmarshalEvent(b)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) || ev.IsFinal() {
				return
			}
		}
	}
}
