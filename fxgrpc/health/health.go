// Package health registers the standard gRPC health service on a grpc server.
package health

import (
	"context"

	"github.com/exoscale/credreload/credbroadcast"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Add a service that exposes the grpc server's health
var Module = fx.Module(
	"grpc-healthcheck",
	fx.Provide(health.NewServer),
	fx.Invoke(RegisterHealthService),
)

type Params struct {
	fx.In

	Lc           fx.Lifecycle
	HealthServer *health.Server
	GrpcServer   *grpc.Server

	// ServerSlot, when supplied, drives the overall serving status off a
	// credbroadcast Broadcaster: NOT_SERVING until the first generation is
	// published, SERVING from then on. Without it the service reports
	// SERVING unconditionally, as it always has.
	ServerSlot *credbroadcast.Slot[*credbroadcast.ServerConfig] `optional:"true"`
}

func RegisterHealthService(p Params) {
	healthpb.RegisterHealthServer(p.GrpcServer, p.HealthServer)

	if p.ServerSlot == nil {
		p.HealthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return
	}

	// health.NewServer starts the overall status at SERVING; report
	// NOT_SERVING before the watcher goroutine gets to run.
	if _, ok := p.ServerSlot.Load(); !ok {
		p.HealthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	go credbroadcast.WatchHealth(ctx, p.ServerSlot, p.HealthServer)
}
