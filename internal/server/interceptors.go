package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs every unary RPC with its duration and error.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logRPC(info.FullMethod, start, err)
	return resp, err
}

// StreamLoggingInterceptor is LoggingInterceptor for streaming RPCs such as
// the health Watch call.
func StreamLoggingInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	logRPC(info.FullMethod, start, err)
	return err
}

// logRPC logs failures at error level. A watcher hanging up ends its
// stream with Canceled, which is routine.
func logRPC(method string, start time.Time, err error) {
	attrs := []any{"method", method, "duration", time.Since(start)}
	switch status.Code(err) {
	case codes.OK:
		slog.Debug("rpc completed", attrs...)
	case codes.Canceled, codes.DeadlineExceeded:
		slog.Debug("rpc ended by client", append(attrs, "code", status.Code(err))...)
	default:
		slog.Error("rpc failed", append(attrs, "error", err)...)
	}
}

// RecoveryInterceptor turns a panic in a unary handler into codes.Internal.
func RecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer recoverRPC(info.FullMethod, &err)
	return handler(ctx, req)
}

// StreamRecoveryInterceptor turns a panic in a stream handler into codes.Internal.
func StreamRecoveryInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer recoverRPC(info.FullMethod, &err)
	return handler(srv, ss)
}

func recoverRPC(method string, err *error) {
	if r := recover(); r != nil {
		slog.Error("panic recovered in gRPC handler",
			"method", method,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)
		*err = status.Errorf(codes.Internal, "internal server error")
	}
}
