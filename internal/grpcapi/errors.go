package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/austindbirch/harbor_agent/internal/a2a"
)

// codeFor maps a protocol error code onto a gRPC status code
func codeFor(code int) codes.Code {
	switch code {
	case a2a.CodeParseError, a2a.CodeInvalidRequest, a2a.CodeInvalidParams, a2a.CodeIncompatibleContentTypes:
		return codes.InvalidArgument
	case a2a.CodeTaskNotFound:
		return codes.NotFound
	case a2a.CodeTaskNotCancelable:
		return codes.FailedPrecondition
	case a2a.CodeMethodNotFound, a2a.CodePushNotSupported, a2a.CodeUnsupportedOperation:
		return codes.Unimplemented
	}
	return codes.Internal
}

// ToStatus converts err into a gRPC status error. The protocol code travels
// as a Struct detail so clients can restore the exact error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	rpcErr := a2a.AsError(err)
	st := status.New(codeFor(rpcErr.Code), rpcErr.Message)
	detail, derr := structpb.NewStruct(map[string]any{"code": float64(rpcErr.Code)})
	if derr != nil {
		return st.Err()
	}
	withDetail, derr := st.WithDetails(detail)
	if derr != nil {
		return st.Err()
	}
	return withDetail.Err()
}

// FromStatus restores a protocol error from a gRPC status error
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		if s, ok := d.(*structpb.Struct); ok {
			if code, ok := s.GetFields()["code"]; ok {
				return &a2a.Error{Code: int(code.GetNumberValue()), Message: st.Message()}
			}
		}
	}

	switch st.Code() {
	case codes.InvalidArgument:
		return a2a.NewInvalidParamsError(st.Message())
	case codes.NotFound:
		return &a2a.Error{Code: a2a.CodeTaskNotFound, Message: st.Message()}
	case codes.FailedPrecondition:
		return &a2a.Error{Code: a2a.CodeTaskNotCancelable, Message: st.Message()}
	case codes.Unimplemented:
		return &a2a.Error{Code: a2a.CodeUnsupportedOperation, Message: st.Message()}
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return a2a.NewInternalError(st.Message())
}
