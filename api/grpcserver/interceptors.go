package grpcserver

import (
	"context"
	stderrors "errors"
	"time"

	"brokerd/pkg/errors"
	"brokerd/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDHeader carries the request id in both directions. A client
// supplied id is kept; otherwise one is generated.
const RequestIDHeader = "x-request-id"

func withRequestID(ctx context.Context) (context.Context, string) {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDHeader); len(v) > 0 {
			id = v[0]
		}
	}
	ctx = logger.WithRequestID(ctx, id)
	return ctx, logger.RequestID(ctx)
}

func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, id := withRequestID(ctx)
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
	start := time.Now()
	resp, err := handler(ctx, req)
	return resp, s.observe(ctx, info.FullMethod, start, err)
}

type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context {
	return s.ctx
}

func (s *Server) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, id := withRequestID(ss.Context())
	_ = ss.SetHeader(metadata.Pairs(RequestIDHeader, id))
	start := time.Now()
	err := handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
	return s.observe(ctx, info.FullMethod, start, err)
}

// observe logs and times a finished call and converts its error to a
// gRPC status.
func (s *Server) observe(ctx context.Context, method string, start time.Time, err error) error {
	elapsed := time.Since(start)
	st := toStatus(err)
	code := status.Code(st)
	s.metrics.RPCDuration.WithLabelValues(method, code.String()).Observe(elapsed.Seconds())

	fields := []logger.Field{
		logger.NewField("method", method),
		logger.NewField("code", code.String()),
		logger.NewField("duration", elapsed.String()),
	}
	switch code {
	case codes.OK, codes.Canceled:
		s.logger.DebugContext(ctx, "rpc handled", fields...)
	case codes.Internal, codes.Unavailable:
		s.logger.ErrorContext(ctx, err, fields...)
	default:
		s.logger.InfoContext(ctx, "rpc rejected", append(fields, logger.NewField("error", err.Error()))...)
	}
	return st
}

// toStatus maps a broker error to a gRPC status. Internal errors are
// reported with a generic message; the detail only goes to the log.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(interface{ GRPCStatus() *status.Status }); ok {
		return err
	}
	switch errors.CodeOf(err) {
	case errors.NotFoundError:
		return status.Error(codes.NotFound, err.Error())
	case errors.ValidationError:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.UnsupportedError:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.UpstreamUnavailableError, errors.IndexCorruptionError, errors.UnavailableError:
		return status.Error(codes.Unavailable, err.Error())
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case stderrors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}
