// Command credreloadd runs the TLS credential hot-reload core as a
// standalone sidecar daemon: it watches a trust-anchors file, an
// end-entity certificate and a private key, and republishes validated
// TLS configuration to a gRPC health surface as those files change.
package main

import (
	"fmt"
	"os"

	"go.uber.org/fx"

	sconfig "github.com/exoscale/credreload/config"
	"github.com/exoscale/credreload/credbroadcast"
	"github.com/exoscale/credreload/fxgrpc"
	"github.com/exoscale/credreload/fxgrpc/health"
	"github.com/exoscale/credreload/fxlogging"
	"github.com/exoscale/credreload/fxmetrics"
	"github.com/exoscale/credreload/fxpprof"
	"github.com/exoscale/credreload/fxsentry"
	"github.com/exoscale/credreload/fxtracing"
)

func main() {
	conf := &ProcessConfig{}
	if err := sconfig.Load(conf, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fx.New(
		fxlogging.NewModule(conf),
		fxsentry.NewModule(conf),
		fxtracing.NewModule(conf),
		fxmetrics.NewModule(conf),
		fxpprof.Module,

		credbroadcast.NewModule(conf.BroadcastConfig()),

		fx.Supply(fx.Annotate(conf, fx.As(new(fxgrpc.GrpcServerConfig)))),
		fxgrpc.ServerModule,
		health.Module,

		// RegisterHealthz must be invoked after fxmetrics registers /metrics:
		// both share the same named "metrics" *http.Server, fxmetrics replaces
		// its handler with a fresh http.ServeMux, and RegisterHealthz adds
		// /healthz to whatever mux it finds there.
		fx.Invoke(RegisterHealthz),
	).Run()
}
