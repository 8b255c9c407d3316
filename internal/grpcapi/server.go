package grpcapi

import (
	"context"
	"path"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
)

// NewServer returns a grpc.Server with tracing, metrics and request logging,
// with svc registered on it.
func NewServer(svc TaskServiceServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryInterceptor()),
		grpc.ChainStreamInterceptor(StreamInterceptor()),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterTaskServiceServer(s, svc)
	return s
}

// UnaryInterceptor records request metrics and logs failures
func UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(ctx, info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// StreamInterceptor records request metrics and logs failures for streams
func StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(ss.Context(), info.FullMethod, err, time.Since(start))
		return err
	}
}

func observe(ctx context.Context, fullMethod string, err error, d time.Duration) {
	method := path.Base(fullMethod)
	code := status.Code(err)
	metrics.RecordRequest("grpc", method, code.String())
	if err == nil {
		return
	}
	logging.WithContext(ctx).WithMethod(method).
		WithField("grpc_code", code.String()).
		WithField("duration_ms", d.Milliseconds()).
		WithError(err).Warn("grpc request failed")
}

// Dial opens an instrumented plaintext connection to target
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	return grpc.NewClient(target, opts...)
}
