package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baxromumarov/evchan"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type watchdogFixture struct {
	mock   *clock.Mock
	bites  *evchan.ReadStream[Bite]
	wd     *Watchdog
	cancel context.CancelFunc
	done   chan error
}

func startWatchdog(t *testing.T, interval time.Duration, opts ...WatchdogOption) *watchdogFixture {
	t.Helper()
	f := &watchdogFixture{mock: clock.NewMock(), done: make(chan error, 1)}

	var err error
	f.bites, err = evchan.NewReadStream[Bite]()
	require.NoError(t, err)

	opts = append(opts, WithWatchdogClock(f.mock))
	f.wd = NewWatchdog(interval, f.bites.Channel(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.wd.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-f.done
	})
	return f
}

// advanceUntil moves the mock clock forward in steps until cond holds.
func (f *watchdogFixture) advanceUntil(t *testing.T, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		f.mock.Add(step)
	}
}

func TestWatchdogBitesWhenNotReset(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := startWatchdog(t, time.Second, WithWatchdogLogger(zap.New(core)))

	f.advanceUntil(t, 100*time.Millisecond, func() bool { return !f.bites.Empty() })

	b, ok := f.bites.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(1), b.Seq)
	assert.True(t, f.wd.Paused())
	assert.Equal(t, 1, logs.FilterMessage("watchdog fired").Len())
}

func TestWatchdogPausedUntilResume(t *testing.T) {
	f := startWatchdog(t, time.Second)

	f.advanceUntil(t, 100*time.Millisecond, func() bool { return !f.bites.Empty() })
	f.bites.GetAll()

	for range 5 {
		f.mock.Add(time.Second)
	}
	assert.True(t, f.bites.Empty(), "a paused watchdog does not bite again")

	f.wd.Resume()
	assert.False(t, f.wd.Paused())
	f.advanceUntil(t, 100*time.Millisecond, func() bool { return !f.bites.Empty() })

	b, ok := f.bites.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(2), b.Seq)
}

func TestWatchdogResetKeepsItAtBay(t *testing.T) {
	f := startWatchdog(t, time.Second)

	for range 10 {
		f.mock.Add(600 * time.Millisecond)
		f.wd.Reset()
	}
	assert.Never(t, func() bool { return !f.bites.Empty() },
		50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, f.wd.Paused())
}

func TestWatchdogGuardedMode(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	var checks atomic.Int32

	f := startWatchdog(t, time.Second, WithGuard(func() bool {
		checks.Add(1)
		return healthy.Load()
	}))

	f.advanceUntil(t, 250*time.Millisecond, func() bool { return checks.Load() >= 3 })
	assert.True(t, f.bites.Empty(), "a passing guard re-arms the watchdog")

	healthy.Store(false)
	f.advanceUntil(t, 250*time.Millisecond, func() bool { return !f.bites.Empty() })
	assert.True(t, f.wd.Paused())
}

func TestWatchdogManualBite(t *testing.T) {
	rs, err := evchan.NewReadStream[Bite]()
	require.NoError(t, err)
	wd := NewWatchdog(time.Minute, rs.Channel())

	wd.Bite()
	assert.True(t, wd.Paused())
	b, ok := rs.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(1), b.Seq)
}

func TestWatchdogPanicsOnNilOutput(t *testing.T) {
	assert.PanicsWithValue(t, "sched: NewWatchdog requires non-nil output", func() {
		NewWatchdog(time.Second, nil)
	})
	assert.PanicsWithValue(t, "sched: WithWatchdogClock requires non-nil clock", func() {
		WithWatchdogClock(nil)
	})
}

func TestWatchdogNilLoggerFallsBackToNop(t *testing.T) {
	rs, err := evchan.NewReadStream[Bite]()
	require.NoError(t, err)
	wd := NewWatchdog(time.Second, rs.Channel(), WithWatchdogLogger(nil))

	assert.NotPanics(t, wd.Bite)
	assert.True(t, wd.Paused())
	assert.Equal(t, 1, rs.Size())
}

func TestWatchdogPublishesThroughWriteStream(t *testing.T) {
	ws, err := evchan.NewWriteStream[Bite](evchan.WithAutoflush(true))
	require.NoError(t, err)
	wd := NewWatchdog(time.Minute, ws)

	wd.Bite() // nobody listening: dropped
	h := ws.Channel()
	defer h.Release()
	wd.Resume()
	wd.Bite()

	bites := h.GetAll()
	require.Len(t, bites, 1)
	assert.Equal(t, uint64(2), bites[0].Seq)
}
