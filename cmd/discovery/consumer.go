package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/registry"
	tgrpc "github.com/go-slark/discovery/transport/grpc"
	"github.com/go-slark/discovery/transport/grpc/balancer"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "discover a service and call its health check across instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, bc, err := load(conf)
		if err != nil {
			return err
		}
		defer c.Close()
		st, err := bc.store()
		if err != nil {
			return err
		}
		defer st.Close()

		picker := bc.Consumer.Picker
		if picker == "" {
			picker = "round_robin"
		}
		disc := registry.NewDiscovery(st, bc.registry(registry.PoolOptions(
			balancer.WithDialer(tgrpc.Dialer()),
			balancer.WithPicker(picker),
		))...)
		defer disc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
		defer stop()
		target := bc.Consumer.Target
		if err = disc.Watch(ctx, target); err != nil {
			return err
		}

		interval := bc.Consumer.Interval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			call(ctx, disc, target)
		}
	},
}

func call(ctx context.Context, disc *registry.Discovery, target string) {
	conn, err := disc.Resolve(target)
	if err != nil {
		logger.Log(ctx, logger.WarnLevel, logger.Fields(logger.Service(target), logger.Error(err)), "resolve")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	fields := logger.Fields(logger.Service(target), logger.Target(conn.Target()))
	if err != nil {
		fields["error"] = err
		logger.Log(ctx, logger.WarnLevel, fields, "health check")
		return
	}
	fields["status"] = resp.Status.String()
	logger.Log(ctx, logger.InfoLevel, fields, "health check")
}
