package credbroadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot is a single-producer, many-consumer latest-value cell. It holds
// either "absent" (the zero generation, before any Store) or the most
// recently stored value of T. It never queues: a slow subscriber observes
// the newest value, not every intermediate one, and a subscriber blocked in
// Next is safe to abandon by cancelling its context.
//
// T is expected to be a reference type (a pointer or interface) so that the
// zero value of T is a meaningful "nothing published yet" sentinel.
type Slot[T any] struct {
	gen atomic.Pointer[generation[T]]

	mu          sync.Mutex
	subscribers int
	drained     chan struct{}
}

type generation[T any] struct {
	value   T
	present bool
	seq     uint64
	changed chan struct{}
}

// NewSlot returns a Slot starting in the absent state.
func NewSlot[T any]() *Slot[T] {
	s := &Slot[T]{drained: make(chan struct{}, 1)}
	s.gen.Store(&generation[T]{changed: make(chan struct{})})
	return s
}

// Store publishes v as the slot's new latest value and wakes every
// subscriber currently blocked in Next. Store is not safe for concurrent
// use by multiple producers; the core has exactly one.
func (s *Slot[T]) Store(v T) {
	prev := s.gen.Load()
	next := &generation[T]{
		value:   v,
		present: true,
		seq:     prev.seq + 1,
		changed: make(chan struct{}),
	}
	s.gen.Store(next)
	close(prev.changed)
}

// Load returns the current value and whether anything has been published
// yet.
func (s *Slot[T]) Load() (T, bool) {
	g := s.gen.Load()
	return g.value, g.present
}

// Next blocks until the slot holds a generation newer than lastSeq, or ctx
// is done. Pass seq 0 to wait for the first publication. The returned seq
// should be passed to the next call so the caller never misses or repeats a
// generation.
func (s *Slot[T]) Next(ctx context.Context, lastSeq uint64) (value T, seq uint64, err error) {
	for {
		g := s.gen.Load()
		if g.seq > lastSeq {
			return g.value, g.seq, nil
		}
		select {
		case <-g.changed:
			continue
		case <-ctx.Done():
			var zero T
			return zero, lastSeq, ctx.Err()
		}
	}
}

// Subscribe registers a subscriber against this slot and returns a handle
// scoped to it. Callers must call Release when done; the Broadcaster uses
// subscriber counts across both its slots to decide when its background
// fold may retire.
func (s *Slot[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	s.subscribers++
	s.mu.Unlock()
	return &Subscription[T]{slot: s}
}

// SubscriberCount reports the number of live subscriptions.
func (s *Slot[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribers
}

// Drained is signaled (best-effort, non-blocking) every time the subscriber
// count transitions to zero.
func (s *Slot[T]) Drained() <-chan struct{} {
	return s.drained
}

func (s *Slot[T]) release() {
	s.mu.Lock()
	s.subscribers--
	empty := s.subscribers == 0
	s.mu.Unlock()
	if empty {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	}
}

// Subscription is a consumer's handle on a Slot.
type Subscription[T any] struct {
	slot     *Slot[T]
	released int32
}

// Load returns the slot's current value.
func (sub *Subscription[T]) Load() (T, bool) {
	return sub.slot.Load()
}

// Next waits for the next generation after lastSeq, or ctx cancellation.
func (sub *Subscription[T]) Next(ctx context.Context, lastSeq uint64) (T, uint64, error) {
	return sub.slot.Next(ctx, lastSeq)
}

// Release unsubscribes. It is idempotent and safe to call from a deferred
// statement even if Next is concurrently blocked; cancel the context passed
// to Next to unblock it first.
func (sub *Subscription[T]) Release() {
	if !atomic.CompareAndSwapInt32(&sub.released, 0, 1) {
		return
	}
	sub.slot.release()
}
