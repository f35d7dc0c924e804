package grpc

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"

	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/pkg/endpoint"
	"github.com/go-slark/discovery/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

var (
	_ transport.Server     = (*Server)(nil)
	_ transport.Endpointer = (*Server)(nil)
)

type Server struct {
	*grpc.Server
	health   *health.Server
	listener net.Listener
	tls      *tls.Config
	err      error
	logger   logger.Logger
	network  string
	address  string
	timeout  time.Duration
	opts     []grpc.ServerOption
	unary    []grpc.UnaryServerInterceptor
	stream   []grpc.StreamServerInterceptor
	services []func(*grpc.Server)
}

func NewServer(opts ...ServerOption) *Server {
	srv := &Server{
		network: "tcp",
		address: "0.0.0.0:9090",
		health:  health.NewServer(),
		logger:  logger.GetLogger(),
		timeout: 5 * time.Second,
		opts:    ServerOpts(),
	}
	for _, o := range opts {
		o(srv)
	}
	unary := append([]grpc.UnaryServerInterceptor{
		UnaryServerRecovery(srv.logger),
		UnaryServerTraceID(),
		UnaryServerLogging(srv.logger),
		UnaryServerMetrics(),
		UnaryServerTimeout(srv.timeout),
	}, srv.unary...)
	stream := append([]grpc.StreamServerInterceptor{
		StreamServerRecovery(srv.logger),
		StreamServerTraceID(),
		StreamServerLogging(srv.logger),
	}, srv.stream...)

	grpcOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
	if srv.tls != nil {
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(srv.tls)))
	}
	grpcOpts = append(grpcOpts, srv.opts...)

	srv.Server = grpc.NewServer(grpcOpts...)
	if srv.listener == nil {
		srv.err = srv.listen()
	}
	grpc_health_v1.RegisterHealthServer(srv.Server, srv.health)
	reflection.Register(srv.Server)
	for _, register := range srv.services {
		register(srv.Server)
	}
	return srv
}

// Health is the health service reporting this server's serving status.
func (s *Server) Health() *health.Server {
	return s.health
}

func (s *Server) Start(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.health.Resume()
	s.logger.Log(ctx, logger.InfoLevel, map[string]interface{}{"address": s.listener.Addr().String()}, "grpc server start")
	err := s.Serve(s.listener)
	if err == grpc.ErrServerStopped {
		return nil
	}
	return err
}

// Stop reports NOT_SERVING, then drains calls until ctx is done and closes
// whatever is left.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Server.Stop()
	}
	s.logger.Log(ctx, logger.InfoLevel, nil, "grpc server stop")
	return nil
}

func (s *Server) listen() error {
	l, err := net.Listen(s.network, s.address)
	if err != nil {
		return err
	}
	s.listener = l
	return nil
}

func (s *Server) Endpoint() (*url.URL, error) {
	if s.err != nil {
		return nil, s.err
	}
	host, err := endpoint.ParseAddr(s.listener, s.address)
	if err != nil {
		return nil, err
	}
	return endpoint.NewEndpoint(endpoint.Scheme("grpc", s.tls == nil), host), nil
}

type ServerOption func(*Server)

func Network(network string) ServerOption {
	return func(s *Server) {
		s.network = network
	}
}

func Address(addr string) ServerOption {
	return func(s *Server) {
		s.address = addr
	}
}

// Timeout bounds each unary call.
func Timeout(tm time.Duration) ServerOption {
	return func(s *Server) {
		s.timeout = tm
	}
}

func Listener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

func TLS(tls *tls.Config) ServerOption {
	return func(s *Server) {
		s.tls = tls
	}
}

func Logger(logger logger.Logger) ServerOption {
	return func(server *Server) {
		server.logger = logger
	}
}

func UnaryInterceptor(u ...grpc.UnaryServerInterceptor) ServerOption {
	return func(s *Server) {
		s.unary = append(s.unary, u...)
	}
}

func StreamInterceptor(st ...grpc.StreamServerInterceptor) ServerOption {
	return func(s *Server) {
		s.stream = append(s.stream, st...)
	}
}

func ServerOptions(opts ...grpc.ServerOption) ServerOption {
	return func(s *Server) {
		s.opts = append(s.opts, opts...)
	}
}

// Service registers a grpc service implementation on the server.
func Service(register func(*grpc.Server)) ServerOption {
	return func(s *Server) {
		s.services = append(s.services, register)
	}
}

type serverOpt struct {
	maxConnectionIdle     time.Duration
	maxConnectionAge      time.Duration
	maxConnectionAgeGrace time.Duration
	time                  time.Duration
	timeout               time.Duration
	minTime               time.Duration
	permitWithoutStream   bool
}

type ServerOpt func(option *serverOpt)

func MaxConnectionIdle(idle time.Duration) ServerOpt {
	return func(option *serverOpt) {
		option.maxConnectionIdle = idle
	}
}

func MaxConnectionAge(age time.Duration) ServerOpt {
	return func(option *serverOpt) {
		option.maxConnectionAge = age
	}
}

func MaxConnectionAgeGrace(ag time.Duration) ServerOpt {
	return func(option *serverOpt) {
		option.maxConnectionAgeGrace = ag
	}
}

func AliveTime(tm time.Duration) ServerOpt {
	return func(option *serverOpt) {
		option.time = tm
	}
}

func AliveTimeout(tm time.Duration) ServerOpt {
	return func(option *serverOpt) {
		option.timeout = tm
	}
}

func MinTime(mt time.Duration) ServerOpt {
	return func(option *serverOpt) {
		option.minTime = mt
	}
}

func PermitWithoutStream(pws bool) ServerOpt {
	return func(option *serverOpt) {
		option.permitWithoutStream = pws
	}
}

// ServerOpts are the keepalive settings every server starts with.
func ServerOpts(opts ...ServerOpt) []grpc.ServerOption {
	o := &serverOpt{
		maxConnectionIdle:     5 * time.Minute,
		maxConnectionAgeGrace: 5 * time.Second,
		time:                  2 * time.Minute,
		timeout:               2 * time.Second,
		minTime:               5 * time.Second,
		permitWithoutStream:   true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     o.maxConnectionIdle,
			MaxConnectionAge:      o.maxConnectionAge,
			MaxConnectionAgeGrace: o.maxConnectionAgeGrace,
			Time:                  o.time,
			Timeout:               o.timeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             o.minTime,
			PermitWithoutStream: o.permitWithoutStream,
		}),
	}
}
