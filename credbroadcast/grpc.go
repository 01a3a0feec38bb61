package credbroadcast

import (
	"context"
	"crypto/tls"
	"errors"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ErrNoServerConfig is returned by a handshake attempted before the first
// generation has been published.
var ErrNoServerConfig = errors.New("credbroadcast: no server credentials published yet")

// TransportCredentialsFromSlot builds gRPC transport credentials whose
// handshake certificate is resolved from whatever ServerConfig generation
// is current in slot at handshake time. A handshake attempted before the
// first generation is published fails with ErrNoServerConfig.
func TransportCredentialsFromSlot(slot *Slot[*ServerConfig], opts Options) credentials.TransportCredentials {
	return credentials.NewTLS(&tls.Config{
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			cfg, ok := slot.Load()
			if !ok {
				return nil, ErrNoServerConfig
			}
			return cfg.Resolver.GetCertificate(chi)
		},
		ClientAuth: tls.NoClientCert,
		MinVersion: opts.minVersion(),
		MaxVersion: opts.maxVersion(),
	})
}

// WatchHealth reports the standard gRPC health status for the empty
// ("overall server") service name based on slot's occupancy: NOT_SERVING
// until the first generation is published, SERVING from then on. Generations
// are never retracted (a failed reload keeps the previous one in place), so
// this is a one-way transition; WatchHealth returns once it has made it, or
// once ctx is cancelled while still waiting.
func WatchHealth(ctx context.Context, slot *Slot[*ServerConfig], hs *health.Server) {
	if _, ok := slot.Load(); ok {
		hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		return
	}
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if _, _, err := slot.Next(ctx, 0); err != nil {
		return
	}
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
}
