package evchan

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Readiness is anything that can report whether it has items to read.
// [Channel], [ReadHandle], [ReadStream] and every [Reader] satisfy it.
type Readiness interface {
	Empty() bool
}

// liveReadiness is implemented by sources that can go away, such as a
// released [ReadHandle].
type liveReadiness interface {
	liveEmpty() (empty, live bool)
}

// Monitor waits on several channels at once.
//
// Every watched channel must be created with the monitor's notifier (see
// [Monitor.Notifier]); an enqueue on any of them wakes [Monitor.Wait],
// which then reports the labels of all non-empty sources.
//
//	mon := evchan.NewMonitor()
//	a, _ := evchan.New[int](evchan.WithNotifier(mon.Notifier()))
//	mon.Watch("a", a)
//	labels, err := mon.Wait(ctx)
type Monitor struct {
	notifier *Semaphore

	mu      sync.Mutex
	sources map[string]Readiness
}

// NewMonitor creates a monitor. The options configure its notifier.
func NewMonitor(opts ...SemaphoreOption) *Monitor {
	return &Monitor{
		notifier: NewCountingSemaphore(opts...),
		sources:  make(map[string]Readiness),
	}
}

// Notifier returns the semaphore watched channels must release.
func (m *Monitor) Notifier() *Semaphore {
	return m.notifier
}

// Watch registers src under label, replacing any previous source with the
// same label. A [ReadHandle] is unwatched automatically once it has been
// released.
func (m *Monitor) Watch(label string, src Readiness) {
	m.mu.Lock()
	m.sources[label] = src
	m.mu.Unlock()
	// Wake waiters so a source that already holds items is noticed.
	m.notifier.Release()
}

// Unwatch removes the source registered under label.
func (m *Monitor) Unwatch(label string) {
	m.mu.Lock()
	delete(m.sources, label)
	m.mu.Unlock()
}

// Wait blocks until at least one watched source is non-empty and returns
// the sorted labels of all such sources. It returns ctx.Err() if ctx ends
// first.
func (m *Monitor) Wait(ctx context.Context) ([]string, error) {
	for {
		if ready := m.ready(); len(ready) > 0 {
			return ready, nil
		}
		if err := m.notifier.AcquireContext(ctx); err != nil {
			return nil, err
		}
	}
}

// WaitUntil is like [Monitor.Wait] but gives up at deadline, returning nil.
func (m *Monitor) WaitUntil(deadline time.Time) []string {
	for {
		if ready := m.ready(); len(ready) > 0 {
			return ready
		}
		if !m.notifier.TryAcquireUntil(deadline) {
			return m.ready()
		}
	}
}

func (m *Monitor) ready() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for label, src := range m.sources {
		empty, live := sourceEmpty(src)
		if !live {
			delete(m.sources, label)
			continue
		}
		if !empty {
			out = append(out, label)
		}
	}
	slices.Sort(out)
	return out
}

func sourceEmpty(src Readiness) (empty, live bool) {
	if lr, ok := src.(liveReadiness); ok {
		return lr.liveEmpty()
	}
	return src.Empty(), true
}
