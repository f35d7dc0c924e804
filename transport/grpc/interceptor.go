package grpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-slark/discovery/errors"
	"github.com/go-slark/discovery/logger"
	utils "github.com/go-slark/discovery/pkg"
	"github.com/go-slark/discovery/pkg/breaker"
	"github.com/go-slark/discovery/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var requests = metrics.NewCounter(
	metrics.SubSystem("grpc_server"),
	metrics.Name("requests_total"),
	metrics.Help("Handled unary calls by method and code."),
	metrics.Labels("method", "code"),
)

// server

func UnaryServerRecovery(l logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				l.Log(ctx, logger.ErrorLevel, map[string]interface{}{"method": info.FullMethod, "stack": string(debug.Stack())}, fmt.Sprintf("panic: %v", p))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func StreamServerRecovery(l logger.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if p := recover(); p != nil {
				l.Log(ss.Context(), logger.ErrorLevel, map[string]interface{}{"method": info.FullMethod, "stack": string(debug.Stack())}, fmt.Sprintf("panic: %v", p))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(srv, ss)
	}
}

func traceID(ctx context.Context) context.Context {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get(utils.TraceID); len(ids) > 0 && ids[0] != "" {
		return utils.WithTraceID(ctx, ids[0])
	}
	return utils.WithTraceID(ctx, utils.BuildRequestID())
}

// UnaryServerTraceID carries the caller's request id, or a new one, in ctx.
func UnaryServerTraceID() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(traceID(ctx), req)
	}
}

func StreamServerTraceID() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, &ssWrapper{ServerStream: ss, ctx: traceID(ss.Context())})
	}
}

type ssWrapper struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *ssWrapper) Context() context.Context {
	return w.ctx
}

func UnaryServerLogging(l logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := map[string]interface{}{
			"method":  info.FullMethod,
			"code":    status.Code(err).String(),
			"latency": time.Since(start).String(),
		}
		level := logger.InfoLevel
		if err != nil {
			fields["error"] = err
			level = logger.WarnLevel
		}
		l.Log(ctx, level, fields, "grpc unary")
		return resp, err
	}
}

func StreamServerLogging(l logger.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		fields := map[string]interface{}{
			"method":  info.FullMethod,
			"code":    status.Code(err).String(),
			"latency": time.Since(start).String(),
		}
		if err != nil {
			fields["error"] = err
		}
		l.Log(ss.Context(), logger.InfoLevel, fields, "grpc stream")
		return err
	}
}

func UnaryServerMetrics() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		requests.Values(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}

// UnaryServerTimeout bounds a call that arrived without a tighter deadline.
func UnaryServerTimeout(timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if timeout <= 0 {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		resp, err := handler(ctx, req)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if _, ok := status.FromError(err); !ok {
				err = status.Error(codes.DeadlineExceeded, err.Error())
			}
		}
		return resp, err
	}
}

// client

func UnaryClientTimeout(defaultTime time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok && defaultTime > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultTime)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func outgoingTraceID(ctx context.Context) context.Context {
	requestID := utils.ExtractTraceID(ctx)
	if requestID == "" {
		requestID = utils.BuildRequestID()
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.Pairs()
	} else {
		md = md.Copy()
	}
	md.Set(utils.TraceID, requestID)
	return metadata.NewOutgoingContext(ctx, md)
}

// UnaryClientTraceID forwards the request id in ctx, minting one if absent.
func UnaryClientTraceID() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, resp interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(outgoingTraceID(ctx), method, req, resp, cc, opts...)
	}
}

func StreamClientTraceID() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(outgoingTraceID(ctx), desc, cc, method, opts...)
	}
}

// UnaryClientBreaker guards each method of a connection with its own
// breaker. Only server side failures count against it.
func UnaryClientBreaker(b *breaker.Breakers) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := b.Do(cc.Target()+method, func() error {
			return invoker(ctx, method, req, reply, cc, opts...)
		}, acceptable)
		if errors.Is(err, breaker.ErrOpen) {
			return status.Error(codes.Unavailable, err.Error())
		}
		return err
	}
}

func acceptable(err error) bool {
	switch status.Code(err) {
	case codes.DeadlineExceeded, codes.Internal, codes.Unavailable, codes.DataLoss, codes.Unimplemented, codes.Unknown, codes.ResourceExhausted:
		return false
	}
	return true
}
