package credbroadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/exoscale/credreload/credpath"
)

// Config is the fx-visible construction parameterization: the path triple
// and watcher tuning, plus the TLS negotiation policy. A zero-value Triple
// selects disabled/plaintext mode.
type Config struct {
	Credentials credpath.Config
	TLSOptions  Options
}

// NewModule wires a Broadcaster into an fx application: it is constructed,
// started and stopped by the application's lifecycle, and publishes its two
// slots for any other component to consume via fx.Provide.
func NewModule(conf Config) fx.Option {
	return fx.Module(
		"credbroadcast",
		fx.Supply(conf),
		fx.Provide(
			NewMetricsOrNop,
			ProvideBroadcaster,
			provideClientSlot,
			provideServerSlot,
		),
	)
}

// MetricsParams makes the Prometheus registry optional: the broadcaster
// works standalone, with no app-wide metrics module, by falling back to a
// sink that discards everything.
type MetricsParams struct {
	fx.In

	Registry *prometheus.Registry `optional:"true"`
}

// NewMetricsOrNop registers the Broadcaster's Prometheus metrics against the
// application's registry, when one is supplied.
func NewMetricsOrNop(p MetricsParams) (*Metrics, error) {
	if p.Registry == nil {
		return NewNopMetrics(), nil
	}
	return NewMetrics(p.Registry)
}

// BroadcasterParams makes the application's TracerProvider optional: the
// broadcaster works standalone, with no tracing module wired in, by falling
// back to a no-op tracer, the same way NewMetricsOrNop falls back on a nil
// registry.
type BroadcasterParams struct {
	fx.In

	Lc             fx.Lifecycle
	Conf           Config
	Logger         *zap.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider `optional:"true"`
}

// ProvideBroadcaster constructs the Broadcaster for conf and attaches its
// Start/Stop to the application lifecycle.
func ProvideBroadcaster(p BroadcasterParams) *Broadcaster {
	tp := p.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	tracer := tp.Tracer("credbroadcast")

	var b *Broadcaster
	if p.Conf.Credentials.Triple.IsZero() {
		p.Logger.Info("No credential paths configured, running without TLS credential reload")
		b = NewDisabled()
	} else {
		b = New(p.Logger, p.Conf.Credentials, p.Conf.TLSOptions, p.Metrics, tracer)
	}

	p.Lc.Append(fx.Hook{
		OnStart: b.Start,
		OnStop:  b.Stop,
	})

	return b
}

func provideClientSlot(b *Broadcaster) *Slot[*ClientConfig] { return b.ClientSlot() }
func provideServerSlot(b *Broadcaster) *Slot[*ServerConfig] { return b.ServerSlot() }
