package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/baxromumarov/evchan"
	"github.com/benbjohnson/clock"
)

var (
	// ErrNotExpired is returned by [IntervalTimer.Renew] before the deadline.
	ErrNotExpired = errors.New("sched: renew before deadline")

	// ErrNotRenewable is returned by [IntervalTimer.Renew] once the maximum
	// number of expirations has been reached.
	ErrNotRenewable = errors.New("sched: timer is not renewable")
)

type timerConfig struct {
	clock          clock.Clock
	maxExpirations int
	hasMax         bool
	startExpired   bool
}

// TimerOption configures an [IntervalTimer].
type TimerOption func(*timerConfig)

// WithMaxExpirations limits how many times the timer can be renewed.
// Panics if n is negative.
func WithMaxExpirations(n int) TimerOption {
	if n < 0 {
		panic("sched: WithMaxExpirations requires n >= 0")
	}
	return func(c *timerConfig) {
		c.maxExpirations = n
		c.hasMax = true
	}
}

// StartExpired makes the first deadline "now" instead of one interval away.
func StartExpired() TimerOption {
	return func(c *timerConfig) {
		c.startExpired = true
	}
}

// WithTimerClock sets the clock. Defaults to the wall clock.
// Panics if c is nil.
func WithTimerClock(c clock.Clock) TimerOption {
	if c == nil {
		panic("sched: WithTimerClock requires non-nil clock")
	}
	return func(cfg *timerConfig) {
		cfg.clock = c
	}
}

// IntervalTimer tracks a deadline that moves forward by a fixed interval
// each time it is renewed. It is safe for concurrent use.
type IntervalTimer struct {
	clock    clock.Clock
	interval time.Duration

	maxExpirations int
	hasMax         bool

	mu          sync.Mutex
	deadline    time.Time
	expirations int
}

// NewIntervalTimer creates a timer. Panics if interval <= 0.
func NewIntervalTimer(interval time.Duration, opts ...TimerOption) *IntervalTimer {
	if interval <= 0 {
		panic("sched: NewIntervalTimer requires interval > 0")
	}
	cfg := timerConfig{clock: clock.New()}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &IntervalTimer{
		clock:          cfg.clock,
		interval:       interval,
		maxExpirations: cfg.maxExpirations,
		hasMax:         cfg.hasMax,
	}
	t.deadline = t.clock.Now()
	if !cfg.startExpired {
		t.deadline = t.deadline.Add(interval)
	}
	return t
}

// Interval returns the renewal interval.
func (t *IntervalTimer) Interval() time.Duration {
	return t.interval
}

// Deadline returns the current deadline.
func (t *IntervalTimer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Until returns the time left before the deadline; negative once expired.
func (t *IntervalTimer) Until() time.Duration {
	return t.Deadline().Sub(t.clock.Now())
}

// Expired reports whether the deadline has been reached.
func (t *IntervalTimer) Expired() bool {
	return t.Until() <= 0
}

// Delay pushes the deadline back by d.
func (t *IntervalTimer) Delay(d time.Duration) {
	t.mu.Lock()
	t.deadline = t.deadline.Add(d)
	t.mu.Unlock()
}

// SetDeadline overrides the deadline.
func (t *IntervalTimer) SetDeadline(deadline time.Time) {
	t.mu.Lock()
	t.deadline = deadline
	t.mu.Unlock()
}

// Expirations returns how many times the timer has been renewed.
func (t *IntervalTimer) Expirations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expirations
}

// Renewable reports whether another renewal is allowed.
func (t *IntervalTimer) Renewable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.renewableLocked()
}

func (t *IntervalTimer) renewableLocked() bool {
	return !t.hasMax || t.expirations < t.maxExpirations
}

// Renew moves an expired timer to its next deadline. A timer that has
// fallen more than one interval behind is brought up to date, so the new
// deadline is always in the future.
func (t *IntervalTimer) Renew() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if now.Before(t.deadline) {
		return ErrNotExpired
	}
	if !t.renewableLocked() {
		return ErrNotRenewable
	}

	next := t.deadline.Add(t.interval)
	if !next.After(now) {
		next = now.Add(t.interval)
	}
	t.deadline = next
	t.expirations++
	return nil
}

// Sink receives published events. Every [evchan.Writer] and
// [evchan.WriteStream] is a Sink.
type Sink[T any] interface {
	Enqueue(v T)
}

var (
	_ Sink[Expiry] = evchan.Writer[Expiry](nil)
	_ Sink[Bite]   = (*evchan.WriteStream[Bite])(nil)
)

// Expiry is published by [RunTimer] each time a timer expires.
type Expiry struct {
	Seq      int       // 1-based expiration count
	Deadline time.Time // the deadline that passed
	At       time.Time // when the expiry was observed
}

// RunTimer waits for t to expire, publishes an [Expiry] to out and renews
// t, for as long as t is renewable. It returns nil once the maximum number
// of expirations has been published, or ctx.Err() if ctx is canceled.
func RunTimer(ctx context.Context, t *IntervalTimer, out Sink[Expiry]) error {
	for seq := 1; t.Renewable(); seq++ {
		if err := sleepUntilExpired(ctx, t); err != nil {
			return err
		}
		out.Enqueue(Expiry{Seq: seq, Deadline: t.Deadline(), At: t.clock.Now()})
		if err := t.Renew(); err != nil {
			return err
		}
	}
	return nil
}

func sleepUntilExpired(ctx context.Context, t *IntervalTimer) error {
	for {
		remaining := t.Until()
		if remaining <= 0 {
			return nil
		}
		timer := t.clock.Timer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
