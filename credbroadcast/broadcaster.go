// Package credbroadcast wires a credwatch.Watcher and a credload.Loader
// together into a stateful fold that republishes validated credentials to
// two latest-value slots: one for TLS dialers, one for TLS acceptors. It is
// the Config Broadcaster component: it owns the long-lived fold goroutine and
// starts and stops the watcher that feeds it.
package credbroadcast

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/exoscale/credreload/credload"
	"github.com/exoscale/credreload/credpath"
	"github.com/exoscale/credreload/credwatch"
)

// Options parameterizes the TLS negotiation policy baked into the
// configurations this package publishes. Exposed as a construction option
// rather than a hard-coded constant so that raising the ceiling past TLS 1.2
// does not require touching this package.
type Options struct {
	MinVersion uint16
	MaxVersion uint16
}

func (o Options) minVersion() uint16 {
	if o.MinVersion == 0 {
		return tls.VersionTLS12
	}
	return o.MinVersion
}

func (o Options) maxVersion() uint16 {
	if o.MaxVersion == 0 {
		return tls.VersionTLS12
	}
	return o.MaxVersion
}

// Broadcaster owns the background fold: Watcher tick in, Loader attempt,
// validated bundle out to both slots. Construct with New or NewDisabled;
// both satisfy the same lifecycle (Start/Stop).
type Broadcaster struct {
	logger  *zap.Logger
	watcher *credwatch.Watcher
	loader  *credload.Loader
	opts    Options
	metrics *Metrics
	tracer  trace.Tracer

	clientSlot *Slot[*ClientConfig]
	serverSlot *Slot[*ServerConfig]

	disabled bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
}

// New builds a Broadcaster over the given credential paths. It does not
// start the background fold; call Start. A nil tracer falls back to a no-op
// one, so callers outside an fx application (tests, standalone use) do not
// need to wire tracing to get a working Broadcaster.
func New(logger *zap.Logger, conf credpath.Config, opts Options, metrics *Metrics, tracer trace.Tracer) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("credbroadcast")
	}
	paths := conf.Triple.Paths()
	return &Broadcaster{
		logger:     logger,
		watcher:    credwatch.New(logger, paths[:], conf.PollInterval, conf.Backend),
		loader:     credload.New(conf.Triple, nil),
		opts:       opts,
		metrics:    metrics,
		tracer:     tracer,
		clientSlot: NewSlot[*ClientConfig](),
		serverSlot: NewSlot[*ServerConfig](),
		done:       make(chan struct{}),
	}
}

// NewDisabled returns a Broadcaster for a process configured without TLS
// credentials at all. Its slots stay permanently absent and Start returns
// immediately without launching any background work: the background task is
// already complete.
func NewDisabled() *Broadcaster {
	done := make(chan struct{})
	close(done)
	return &Broadcaster{
		disabled:   true,
		logger:     zap.NewNop(),
		metrics:    NewNopMetrics(),
		clientSlot: NewSlot[*ClientConfig](),
		serverSlot: NewSlot[*ServerConfig](),
		done:       done,
	}
}

// Done returns a channel that is closed once the background fold has
// retired, either because every subscriber of both slots released or
// because Stop was called. In disabled mode it is already closed.
func (b *Broadcaster) Done() <-chan struct{} { return b.done }

// ClientSlot is the dialing-side publication endpoint.
func (b *Broadcaster) ClientSlot() *Slot[*ClientConfig] { return b.clientSlot }

// ServerSlot is the accepting-side publication endpoint.
func (b *Broadcaster) ServerSlot() *Slot[*ServerConfig] { return b.serverSlot }

// Options returns the TLS negotiation policy this broadcaster applies to
// configurations it derives.
func (b *Broadcaster) Options() Options { return b.opts }

// Start launches the watcher and the fold goroutine. In disabled mode it is
// a no-op: the already-absent slots and an already-complete background task
// are the correct degenerate behavior.
func (b *Broadcaster) Start(ctx context.Context) error {
	if b.disabled {
		return nil
	}

	if err := b.watcher.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.done)
		b.fold(runCtx)
	}()

	return nil
}

// Stop ends the fold and the watcher, waiting for both to exit.
func (b *Broadcaster) Stop(ctx context.Context) error {
	if b.disabled {
		return nil
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	return b.watcher.Stop(ctx)
}

// fold is the single long-lived task: it reacts to watcher ticks by
// attempting a load, and reacts to subscriber drain signals by deciding
// whether it may retire. It never exits on a failed load; only losing every
// subscriber of both slots, or an external Stop, ends it.
func (b *Broadcaster) fold(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-b.watcher.Ticks():
			b.metrics.recordTick()
			b.attemptReload(ctx)

		case <-b.clientSlot.Drained():
			if b.bothSlotsDrained() {
				return
			}

		case <-b.serverSlot.Drained():
			if b.bothSlotsDrained() {
				return
			}
		}
	}
}

func (b *Broadcaster) bothSlotsDrained() bool {
	return b.clientSlot.SubscriberCount() == 0 && b.serverSlot.SubscriberCount() == 0
}

// attemptReload performs one Loader attempt and, on success, publishes both
// derived views. The client slot is updated before the server slot; both
// updates happen without an intervening suspension point, so no subscriber
// reading both slots can observe a cross-generation pair.
func (b *Broadcaster) attemptReload(ctx context.Context) {
	genID := ulid.Make()
	log := b.logger.With(zap.String("generation-id", genID.String()))

	ctx, span := b.tracer.Start(ctx, "credload.Load")
	cfg, err := b.loader.Load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		log.Warn("Credential reload failed, keeping previous generation",
			zap.String("reason", reloadFailureKind(err)),
			zap.Error(err))
		b.metrics.recordAttempt(false)
		return
	}
	span.SetStatus(codes.Ok, "")
	span.End()

	client, server := newViews(cfg)
	b.clientSlot.Store(client)
	b.serverSlot.Store(server)

	hash := cfg.Resolver.ContentHash()
	log.Info("Published new credential generation",
		zap.String("content-hash", hex.EncodeToString(hash[:])))
	b.metrics.recordAttempt(true)
}

// reloadFailureKind names the credload error variant for the warn log's
// "reason" field, matching spec-level error names (FailedToParseTrustAnchors,
// InvalidPrivateKey, ...) rather than credload's Go type names.
func reloadFailureKind(err error) string {
	switch err.(type) {
	case *credload.TrustAnchorsError:
		return "FailedToParseTrustAnchors"
	case *credload.InvalidPrivateKeyError:
		return "InvalidPrivateKey"
	case *credload.EndEntityCertError:
		return "EndEntityCertIsNotValid"
	case *credload.IoError:
		return "Io"
	case *credload.TimeConversionError:
		return "TimeConversionFailed"
	default:
		return "Unknown"
	}
}
