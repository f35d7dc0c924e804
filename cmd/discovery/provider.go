package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-slark/discovery"
	"github.com/go-slark/discovery/config"
	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/pkg/metrics"
	"github.com/go-slark/discovery/registry"
	"github.com/go-slark/discovery/transport"
	tgrpc "github.com/go-slark/discovery/transport/grpc"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "serve gRPC health and keep the instance registered",
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

		srv := tgrpc.NewServer(tgrpc.Address(bc.Service.Address))
		servers := []transport.Server{srv}
		if bc.Metrics.Address != "" {
			servers = append(servers, &metricsServer{Server: &http.Server{Addr: bc.Metrics.Address, Handler: metrics.Handler()}})
		}
		// drain traffic when the service is switched off in the config
		c.Watch("service.disabled", func(c *config.Config) {
			status := grpc_health_v1.HealthCheckResponse_SERVING
			if c.GetBool("service.disabled") {
				status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			}
			srv.Health().SetServingStatus("", status)
			logger.Log(context.Background(), logger.InfoLevel, map[string]interface{}{"status": status.String()}, "serving status changed")
		})

		app := discovery.New(
			discovery.Name(bc.Service.Name),
			discovery.Version(bc.Service.Version),
			discovery.Metadata(bc.Service.Metadata),
			discovery.Server(servers...),
			discovery.Registrar(registry.NewRegistry(st, bc.registry()...)),
		)
		return app.Run()
	},
}

type metricsServer struct {
	*http.Server
}

func (s *metricsServer) Start(context.Context) error {
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *metricsServer) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
