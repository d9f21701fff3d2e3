package sched

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Bite is published when a [Watchdog] fires.
type Bite struct {
	Seq uint64    // 1-based count of bites from this watchdog
	At  time.Time // when the watchdog fired
}

type watchdogConfig struct {
	clock  clock.Clock
	guard  func() bool
	logger *zap.Logger
}

// WatchdogOption configures a [Watchdog].
type WatchdogOption func(*watchdogConfig)

// WithGuard switches the watchdog to guarded mode. When the interval
// lapses, guard is consulted: true re-arms the watchdog, false makes it
// bite. Without a guard the caller must call [Watchdog.Reset] in time.
func WithGuard(guard func() bool) WatchdogOption {
	return func(c *watchdogConfig) {
		c.guard = guard
	}
}

// WithWatchdogClock sets the clock. Defaults to the wall clock.
// Panics if c is nil.
func WithWatchdogClock(c clock.Clock) WatchdogOption {
	if c == nil {
		panic("sched: WithWatchdogClock requires non-nil clock")
	}
	return func(cfg *watchdogConfig) {
		cfg.clock = c
	}
}

// WithWatchdogLogger sets the logger. Defaults to a no-op logger; nil
// selects the default.
func WithWatchdogLogger(l *zap.Logger) WatchdogOption {
	return func(c *watchdogConfig) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	}
}

// Watchdog publishes a [Bite] to its output when it is not reset within
// one interval. After biting it pauses until [Watchdog.Resume].
type Watchdog struct {
	timer  *IntervalTimer
	clock  clock.Clock
	guard  func() bool
	out    Sink[Bite]
	logger *zap.Logger

	mu     sync.Mutex
	paused bool
	seq    uint64

	// resumed wakes a paused Run loop.
	resumed chan struct{}
}

// NewWatchdog creates a watchdog publishing to out. It starts armed but
// does nothing until [Watchdog.Run] is called.
// Panics if interval <= 0 or out is nil.
func NewWatchdog(interval time.Duration, out Sink[Bite], opts ...WatchdogOption) *Watchdog {
	if out == nil {
		panic("sched: NewWatchdog requires non-nil output")
	}
	cfg := watchdogConfig{clock: clock.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Watchdog{
		timer:   NewIntervalTimer(interval, WithTimerClock(cfg.clock)),
		clock:   cfg.clock,
		guard:   cfg.guard,
		out:     out,
		logger:  cfg.logger,
		resumed: make(chan struct{}, 1),
	}
}

// Reset keeps the watchdog at bay for another full interval.
func (w *Watchdog) Reset() {
	w.timer.SetDeadline(w.clock.Now().Add(w.timer.Interval()))
}

// Bite publishes a [Bite] and pauses the watchdog. Run calls it when the
// interval lapses; callers may also trigger it directly.
func (w *Watchdog) Bite() {
	w.mu.Lock()
	w.seq++
	b := Bite{Seq: w.seq, At: w.clock.Now()}
	w.paused = true
	w.mu.Unlock()

	w.logger.Warn("watchdog fired", zap.Uint64("seq", b.Seq))
	w.out.Enqueue(b)
}

// Resume re-arms a paused watchdog, resetting it so it does not fire
// again immediately.
func (w *Watchdog) Resume() {
	w.Reset()
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	select {
	case w.resumed <- struct{}{}:
	default:
	}
}

// Paused reports whether the watchdog has bitten and awaits [Watchdog.Resume].
func (w *Watchdog) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Run drives the watchdog until ctx is canceled. It returns ctx.Err().
func (w *Watchdog) Run(ctx context.Context) error {
	w.Reset()
	for {
		if w.Paused() {
			select {
			case <-w.resumed:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := sleepUntilExpired(ctx, w.timer); err != nil {
			return err
		}
		if w.Paused() {
			// Bitten by hand while we slept.
			continue
		}
		if w.guard != nil && w.guard() {
			w.logger.Debug("watchdog guard passed")
			w.Reset()
			continue
		}
		w.Bite()
	}
}
