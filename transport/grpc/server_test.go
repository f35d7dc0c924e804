package grpc

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-slark/discovery/logger"
	utils "github.com/go-slark/discovery/pkg"
	"github.com/travisjeffery/go-dynaport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func startServer(t *testing.T, opts ...ServerOption) (*Server, string) {
	t.Helper()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(dynaport.Get(1)[0]))
	srv := NewServer(append([]ServerOption{Address(addr), Logger(logger.Discard)}, opts...)...)
	go func() {
		_ = srv.Start(context.Background())
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, addr
}

func TestServerHealth(t *testing.T) {
	srv, addr := startServer(t)
	u, err := srv.Endpoint()
	if err != nil {
		t.Fatal(err)
	}
	if u.Scheme != "grpc" || u.Host != addr {
		t.Fatalf("endpoint = %s", u)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := Dialer()(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("status = %s", resp.Status)
	}
}

func TestServerInterceptors(t *testing.T) {
	var (
		mu   sync.Mutex
		seen string
	)
	record := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		mu.Lock()
		seen = utils.ExtractTraceID(ctx)
		mu.Unlock()
		if req.(*grpc_health_v1.HealthCheckRequest).Service == "panic" {
			panic("boom")
		}
		return handler(ctx, req)
	}
	_, addr := startServer(t, UnaryInterceptor(record))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := Dialer(WithTimeout(time.Second))(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	if _, err = client.Check(utils.WithTraceID(ctx, "req-1"), &grpc_health_v1.HealthCheckRequest{}); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	got := seen
	mu.Unlock()
	if got != "req-1" {
		t.Fatalf("trace id = %q", got)
	}

	_, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "panic"})
	if status.Code(err) != codes.Internal {
		t.Fatalf("panic surfaced as %v", err)
	}
	mu.Lock()
	got = seen
	mu.Unlock()
	if got == "" || got == "req-1" {
		t.Fatalf("no fresh trace id: %q", got)
	}
}

func TestServerStop(t *testing.T) {
	srv, addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := Dialer()(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err = srv.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err = grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{}); err == nil {
		t.Fatal("stopped server answered")
	}
}
