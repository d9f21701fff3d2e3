package evchan

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
)

// lease tracks the owners of a stream-bound channel. Once the owner count
// drops to zero the channel is considered destroyed and can never be
// revived; a stream that needs a channel again creates a new one.
type lease[T any] struct {
	ch     *Channel[T]
	owners atomic.Int64
	logger *zap.Logger
}

func newLease[T any](ch *Channel[T]) *lease[T] {
	l := &lease[T]{ch: ch, logger: ch.logger}
	l.owners.Store(1)
	return l
}

// acquire adds an owner if the channel is still alive.
func (l *lease[T]) acquire() bool {
	for {
		n := l.owners.Load()
		if n <= 0 {
			return false
		}
		if l.owners.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (l *lease[T]) alive() bool {
	return l.owners.Load() > 0
}

// drop removes an owner. The last one out destroys the channel.
func (l *lease[T]) drop() {
	if l.owners.Add(-1) != 0 {
		return
	}
	n := l.ch.discard()
	l.logger.Debug("channel released by last holder", zap.Int("discarded", n))
}

type handleState[T any] struct {
	lease    *lease[T]
	released atomic.Bool
}

func (st *handleState[T]) release() {
	if st.released.CompareAndSwap(false, true) {
		st.lease.drop()
	}
}

// ReadHandle is a counted reference to a channel bound to a [WriteStream].
// It exposes the consumer side of the channel.
//
// The channel stays alive while at least one handle is unreleased. The
// stream itself does not count as a holder. Call [ReadHandle.Release] when
// done; a handle that becomes unreachable is released by the garbage
// collector, but not at any predictable time.
//
// A [Monitor] or metrics collector watching a handle drops it once it is
// released. Watching still keeps the handle reachable, so such handles
// must be released explicitly.
type ReadHandle[T any] struct {
	state   *handleState[T]
	cleanup runtime.Cleanup
}

var _ Reader[int] = (*ReadHandle[int])(nil)

func newReadHandle[T any](l *lease[T]) *ReadHandle[T] {
	st := &handleState[T]{lease: l}
	h := &ReadHandle[T]{state: st}
	h.cleanup = runtime.AddCleanup(h, func(st *handleState[T]) { st.release() }, st)
	return h
}

func (h *ReadHandle[T]) channel() *Channel[T] {
	if h.state.released.Load() {
		panic("evchan: use of released handle")
	}
	return h.state.lease.ch
}

// ID returns the id of the underlying channel.
func (h *ReadHandle[T]) ID() uint32 {
	defer runtime.KeepAlive(h)
	return h.channel().ID()
}

// Empty reports whether the channel holds no items.
func (h *ReadHandle[T]) Empty() bool {
	defer runtime.KeepAlive(h)
	return h.channel().Empty()
}

// Size returns the number of queued items.
func (h *ReadHandle[T]) Size() int {
	defer runtime.KeepAlive(h)
	return h.channel().Size()
}

// Get removes and returns the oldest item.
func (h *ReadHandle[T]) Get() (T, bool) {
	defer runtime.KeepAlive(h)
	return h.channel().Get()
}

// GetAll drains the channel.
func (h *ReadHandle[T]) GetAll() []T {
	defer runtime.KeepAlive(h)
	return h.channel().GetAll()
}

// Stats returns a snapshot of the underlying channel's counters.
func (h *ReadHandle[T]) Stats() Stats {
	defer runtime.KeepAlive(h)
	return h.channel().Stats()
}

// Released reports whether [ReadHandle.Release] has been called on h.
func (h *ReadHandle[T]) Released() bool {
	return h.state.released.Load()
}

// LiveStats is like [ReadHandle.Stats] but reports false instead of
// panicking once h has been released.
func (h *ReadHandle[T]) LiveStats() (Stats, bool) {
	defer runtime.KeepAlive(h)
	if h.state.released.Load() {
		return Stats{}, false
	}
	return h.state.lease.ch.Stats(), true
}

// liveEmpty is the non-panicking form of Empty used by [Monitor].
func (h *ReadHandle[T]) liveEmpty() (empty, live bool) {
	defer runtime.KeepAlive(h)
	if h.state.released.Load() {
		return true, false
	}
	return h.state.lease.ch.Empty(), true
}

// Clone returns a new handle co-owning the same channel.
// Panics if h has been released.
func (h *ReadHandle[T]) Clone() *ReadHandle[T] {
	defer runtime.KeepAlive(h)
	l := h.state.lease
	if h.state.released.Load() || !l.acquire() {
		panic("evchan: use of released handle")
	}
	return newReadHandle(l)
}

// Release gives up h's ownership. Calling Release more than once is a no-op.
func (h *ReadHandle[T]) Release() {
	h.cleanup.Stop()
	h.state.release()
}
