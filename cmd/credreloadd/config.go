package main

import (
	"crypto/tls"

	"go.uber.org/zap/zapcore"

	"github.com/exoscale/credreload/credbroadcast"
	"github.com/exoscale/credreload/credpath"
	"github.com/exoscale/credreload/fxgrpc"
	"github.com/exoscale/credreload/fxlogging"
	"github.com/exoscale/credreload/fxmetrics"
	"github.com/exoscale/credreload/fxpprof"
	"github.com/exoscale/credreload/fxsentry"
	"github.com/exoscale/credreload/fxtracing"
)

// ProcessConfig is the top-level configuration for the credreloadd daemon:
// the credential paths the reload core watches, the TLS negotiation bounds
// it publishes, and the ambient stack every stelling-shaped binary carries
// (logging, error reporting, tracing, metrics, profiling, the gRPC surface).
type ProcessConfig struct {
	// Credentials is the three-path input to the credential reload core.
	Credentials credpath.Config
	// TLS bounds the minimum/maximum TLS version negotiated by the
	// published ServerConfig/ClientConfig views.
	TLS credbroadcast.Options

	Logging fxlogging.Logging
	Sentry  fxsentry.Sentry
	Tracing fxtracing.Tracing
	Metrics fxmetrics.Metrics
	Pprof   fxpprof.Pprof
	GRPC    fxgrpc.Server
}

func (c *ProcessConfig) ApplyDefaults() {
	c.TLS.MinVersion = tls.VersionTLS12
	c.TLS.MaxVersion = tls.VersionTLS12
}

func (c *ProcessConfig) LoggingConfig() *fxlogging.Logging { return &c.Logging }
func (c *ProcessConfig) SentryConfig() *fxsentry.Sentry    { return &c.Sentry }
func (c *ProcessConfig) TracingConfig() *fxtracing.Tracing { return &c.Tracing }
func (c *ProcessConfig) MetricsConfig() *fxmetrics.Metrics { return &c.Metrics }
func (c *ProcessConfig) GetPprof() *fxpprof.Pprof          { return &c.Pprof }
func (c *ProcessConfig) GetServer() *fxgrpc.Server         { return &c.GRPC }

func (c *ProcessConfig) BroadcastConfig() credbroadcast.Config {
	return credbroadcast.Config{
		Credentials: c.Credentials,
		TLSOptions:  c.TLS,
	}
}

func (c *ProcessConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if err := enc.AddObject("credentials", &c.Credentials); err != nil {
		return err
	}
	if err := enc.AddObject("logging", &c.Logging); err != nil {
		return err
	}
	if err := enc.AddObject("sentry", &c.Sentry); err != nil {
		return err
	}
	if err := enc.AddObject("tracing", &c.Tracing); err != nil {
		return err
	}
	if err := enc.AddObject("metrics", &c.Metrics); err != nil {
		return err
	}
	if err := enc.AddObject("pprof", &c.Pprof); err != nil {
		return err
	}
	return enc.AddObject("grpc", &c.GRPC)
}
