package grpc

import (
	"crypto/tls"
	"time"

	"github.com/go-slark/discovery/pkg/breaker"
	"github.com/go-slark/discovery/transport/grpc/balancer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

// breakers are shared by every connection, keyed by target and method.
var breakers = breaker.NewBreakers()

type clientOption struct {
	timeout time.Duration
	tls     *tls.Config
	opts    []grpc.DialOption
	unary   []grpc.UnaryClientInterceptor
	stream  []grpc.StreamClientInterceptor
}

type ClientOption func(*clientOption)

// WithTimeout is the deadline of calls made without one.
func WithTimeout(tm time.Duration) ClientOption {
	return func(o *clientOption) {
		o.timeout = tm
	}
}

func WithTLS(tls *tls.Config) ClientOption {
	return func(o *clientOption) {
		o.tls = tls
	}
}

func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(o *clientOption) {
		o.opts = append(o.opts, opts...)
	}
}

func WithUnaryInterceptor(unary ...grpc.UnaryClientInterceptor) ClientOption {
	return func(o *clientOption) {
		o.unary = append(o.unary, unary...)
	}
}

func WithStreamInterceptor(stream ...grpc.StreamClientInterceptor) ClientOption {
	return func(o *clientOption) {
		o.stream = append(o.stream, stream...)
	}
}

// DialOpts builds the dial options of a connection to one instance.
func DialOpts(opts ...ClientOption) []grpc.DialOption {
	o := &clientOption{timeout: 3 * time.Second}
	for _, opt := range opts {
		opt(o)
	}
	unary := append([]grpc.UnaryClientInterceptor{
		UnaryClientTraceID(),
		UnaryClientBreaker(breakers),
		UnaryClientTimeout(o.timeout),
	}, o.unary...)
	stream := append([]grpc.StreamClientInterceptor{StreamClientTraceID()}, o.stream...)
	dialOpts := []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(unary...),
		grpc.WithChainStreamInterceptor(stream...),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		}),
	}
	if o.tls != nil {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(o.tls)))
	}
	return append(dialOpts, o.opts...)
}

// Dialer is the balancer dialer for pools of grpc services.
func Dialer(opts ...ClientOption) balancer.Dialer {
	return balancer.DialContext(DialOpts(opts...)...)
}
