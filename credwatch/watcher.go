// Package credwatch emits a content-free "something changed" tick whenever
// any of a fixed set of filesystem paths may have changed, including
// indirect changes made by retargeting a symlinked ancestor directory (the
// pattern used by orchestrated secret-volume rotation).
package credwatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend selects which change-detection strategy a Watcher uses.
const (
	BackendAuto   = "auto"
	BackendPoll   = "poll"
	BackendNotify = "notify"
)

// source is the internal contract a backend implements: run until ctx is
// canceled, sending a value on ticks every time it believes something may
// have changed. run must not block forever on a send; it should drop a tick
// rather than block if the caller isn't keeping up.
type source interface {
	run(ctx context.Context, ticks chan<- struct{})
}

// Watcher produces a stream of ticks for a fixed set of paths. The stream is
// infinite while the Watcher is running: it never terminates on transient
// I/O errors, it only stops when Stop is called.
type Watcher struct {
	logger      *zap.Logger
	paths       []string
	interval    time.Duration
	backendPref string

	ticks  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Watcher over paths. backend is one of BackendAuto,
// BackendPoll or BackendNotify; an unrecognized value is treated as
// BackendAuto. None of the paths need to exist yet.
func New(logger *zap.Logger, paths []string, interval time.Duration, backend string) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		logger:      logger,
		paths:       append([]string(nil), paths...),
		interval:    interval,
		backendPref: backend,
		// Buffered by one: a pending, unconsumed tick makes any further
		// ticks redundant until it's read, which is exactly the coalescing
		// behavior the spec asks for.
		ticks: make(chan struct{}, 1),
	}
}

// Ticks returns the channel ticks are delivered on. Only valid for the
// lifetime between Start and Stop.
func (w *Watcher) Ticks() <-chan struct{} {
	return w.ticks
}

// Start launches the background goroutine that produces ticks. It selects
// the kernel-notification backend when requested or preferred by "auto",
// falling back to polling if notification setup fails.
func (w *Watcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	var backend source
	switch w.backendPref {
	case BackendPoll:
		backend = newPollSource(w.paths, w.interval)
	case BackendNotify:
		nb, err := newNotifySource(w.logger, w.paths)
		if err != nil {
			cancel()
			return err
		}
		backend = nb
	default:
		nb, err := newNotifySource(w.logger, w.paths)
		if err != nil {
			w.logger.Warn("Falling back to polling watcher backend", zap.Error(err))
			backend = newPollSource(w.paths, w.interval)
		} else {
			backend = nb
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		backend.run(runCtx, w.ticks)
	}()

	return nil
}

// Stop ends the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return nil
}

// sendTick delivers a non-blocking, coalescing tick: if one is already
// pending in the buffer, this is a no-op.
func sendTick(ticks chan<- struct{}) {
	select {
	case ticks <- struct{}{}:
	default:
	}
}
