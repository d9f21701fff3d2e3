package evchan

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Semaphore is a counting semaphore with a fixed maximum count.
//
// The counter starts at zero. [Semaphore.Release] increments it (saturating
// at the maximum) and wakes waiters; the acquire family decrements it,
// blocking while it is zero. A maximum of 1 gives binary handoff semantics.
//
// A Semaphore is typically shared between a [Channel] (as its notifier) and
// any number of consumer goroutines waiting for items.
type Semaphore struct {
	mu    sync.Mutex
	count uint32
	max   uint32

	// wake is closed and replaced on every Release, waking all waiters
	// so they can re-check the counter.
	wake chan struct{}

	clock clock.Clock
}

// SemaphoreOption configures a [Semaphore].
type SemaphoreOption func(*Semaphore)

// WithClock sets the clock used by [Semaphore.TryAcquireFor] and
// [Semaphore.TryAcquireUntil]. Tests pass a [clock.Mock].
func WithClock(c clock.Clock) SemaphoreOption {
	return func(s *Semaphore) {
		if c == nil {
			panic("evchan: WithClock requires non-nil clock")
		}
		s.clock = c
	}
}

// NewSemaphore creates a semaphore whose counter saturates at max.
// Panics if max == 0.
func NewSemaphore(max uint32, opts ...SemaphoreOption) *Semaphore {
	if max == 0 {
		panic("evchan: NewSemaphore requires max > 0")
	}
	s := &Semaphore{
		max:   max,
		wake:  make(chan struct{}),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewBinarySemaphore creates a semaphore with a maximum count of 1.
func NewBinarySemaphore(opts ...SemaphoreOption) *Semaphore {
	return NewSemaphore(1, opts...)
}

// NewCountingSemaphore creates a semaphore that is effectively unbounded.
func NewCountingSemaphore(opts ...SemaphoreOption) *Semaphore {
	return NewSemaphore(math.MaxUint32, opts...)
}

// Release increments the counter unless it is already at the maximum,
// and wakes blocked waiters. Releasing at the maximum is a no-op for the
// counter.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if s.count < s.max {
		s.count++
	}
	close(s.wake)
	s.wake = make(chan struct{})
	s.mu.Unlock()
}

// Acquire blocks until the counter is non-zero, then decrements it.
func (s *Semaphore) Acquire() {
	_ = s.AcquireContext(context.Background())
}

// AcquireContext is like [Semaphore.Acquire] but gives up when ctx is done.
// It returns ctx.Err() in that case and leaves the counter untouched.
func (s *Semaphore) AcquireContext(ctx context.Context) error {
	for {
		wake, ok := s.tryAcquire()
		if ok {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryAcquire decrements the counter if it is non-zero and reports whether
// it did. It never blocks.
func (s *Semaphore) TryAcquire() bool {
	_, ok := s.tryAcquire()
	return ok
}

// TryAcquireFor waits up to d for the counter to become non-zero.
func (s *Semaphore) TryAcquireFor(d time.Duration) bool {
	return s.TryAcquireUntil(s.clock.Now().Add(d))
}

// TryAcquireUntil waits until deadline for the counter to become non-zero.
// It returns false on timeout.
func (s *Semaphore) TryAcquireUntil(deadline time.Time) bool {
	wake, ok := s.tryAcquire()
	if ok {
		return true
	}

	remaining := deadline.Sub(s.clock.Now())
	if remaining <= 0 {
		return false
	}
	timer := s.clock.Timer(remaining)
	defer timer.Stop()

	for {
		select {
		case <-wake:
		case <-timer.C:
			// One last look: a release may have raced with the timer.
			return s.TryAcquire()
		}
		if wake, ok = s.tryAcquire(); ok {
			return true
		}
	}
}

// Reset forces the counter to zero. Goroutines already blocked in an
// acquire call keep waiting.
func (s *Semaphore) Reset() {
	s.mu.Lock()
	s.count = 0
	s.mu.Unlock()
}

// Count returns the current counter value. The value may be stale in
// concurrent contexts.
func (s *Semaphore) Count() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Max returns the configured maximum count.
func (s *Semaphore) Max() uint32 {
	return s.max
}

// tryAcquire decrements the counter when possible. Otherwise it returns the
// channel that the next Release will close.
func (s *Semaphore) tryAcquire() (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
		return nil, true
	}
	return s.wake, false
}
