package evchan

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

// evictionWarnEvery controls how often a slow-consumer warning is logged.
const evictionWarnEvery = 100

var nextChannelID atomic.Uint32

// Channel is a goroutine-safe FIFO queue of events.
//
// Any number of producers may call [Channel.Enqueue] while any number of
// consumers call [Channel.Get] or [Channel.GetAll]. None of these block
// beyond a short critical section.
//
// A bounded channel never blocks producers: when an enqueue pushes the size
// past the bound, the oldest item is dropped. If a notifier is configured
// it is released exactly once per enqueue, whether or not an item was
// evicted. A consumer woken by the notifier must still tolerate finding
// the channel empty, since another consumer may have drained it first.
type Channel[T any] struct {
	id   uint32
	name string

	capacity    int
	hasCapacity bool
	notifier    *Semaphore
	logger      *zap.Logger

	mu    sync.Mutex
	items deque.Deque[T]

	enqueued atomic.Uint64
	evicted  atomic.Uint64
}

// Stats is a point-in-time snapshot of channel activity.
type Stats struct {
	ID       uint32
	Name     string
	Size     int    // items currently queued
	Capacity int    // 0 when unbounded
	Enqueued uint64 // total successful enqueues
	Evicted  uint64 // items dropped to honor the capacity bound
}

// New creates a channel. It fails if the options describe an impossible
// configuration, such as a capacity of zero.
func New[T any](opts ...Option) (*Channel[T], error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("evchan: new channel: %w", err)
	}
	return newChannel[T](cfg), nil
}

func newChannel[T any](cfg config) *Channel[T] {
	c := &Channel[T]{
		id:          nextChannelID.Add(1) - 1,
		name:        cfg.name,
		capacity:    cfg.capacity,
		hasCapacity: cfg.hasCapacity,
		notifier:    cfg.notifier,
	}
	c.logger = cfg.logger.With(zap.Uint32("channel_id", c.id))
	if c.name != "" {
		c.logger = c.logger.With(zap.String("channel", c.name))
	}
	return c
}

// ID returns an identifier unique among live channels.
func (c *Channel[T]) ID() uint32 {
	return c.id
}

// Name returns the name given with [WithName], if any.
func (c *Channel[T]) Name() string {
	return c.name
}

// Enqueue appends v to the tail of the channel.
func (c *Channel[T]) Enqueue(v T) {
	c.mu.Lock()
	c.items.PushBack(v)
	evicted := c.hasCapacity && c.items.Len() > c.capacity
	if evicted {
		c.items.PopFront()
	}
	c.enqueued.Add(1)
	if c.notifier != nil {
		c.notifier.Release()
	}
	c.mu.Unlock()

	if evicted {
		c.noteEviction()
	}
}

func (c *Channel[T]) noteEviction() {
	n := c.evicted.Add(1)
	if n%evictionWarnEvery == 1 {
		c.logger.Warn("slow consumer, dropping oldest events",
			zap.Uint64("evicted", n),
			zap.Int("capacity", c.capacity))
		return
	}
	c.logger.Debug("evicted oldest event", zap.Uint64("evicted", n))
}

// Get removes and returns the oldest item. The boolean is false when the
// channel is empty.
func (c *Channel[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return c.items.PopFront(), true
}

// GetAll removes and returns every queued item, oldest first, under a
// single lock acquisition. It returns nil when the channel is empty.
func (c *Channel[T]) GetAll() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.items.Len()
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = c.items.PopFront()
	}
	return out
}

// Empty reports whether the channel holds no items. The result may be
// stale by the time it is used.
func (c *Channel[T]) Empty() bool {
	return c.Size() == 0
}

// Size returns the number of queued items. The result may be stale by the
// time it is used.
func (c *Channel[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Capacity returns the configured bound and whether one is set.
func (c *Channel[T]) Capacity() (int, bool) {
	return c.capacity, c.hasCapacity
}

// Stats returns a snapshot of the channel's counters.
func (c *Channel[T]) Stats() Stats {
	return Stats{
		ID:       c.id,
		Name:     c.name,
		Size:     c.Size(),
		Capacity: c.capacity,
		Enqueued: c.enqueued.Load(),
		Evicted:  c.evicted.Load(),
	}
}

// discard drops every queued item.
func (c *Channel[T]) discard() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.items.Len()
	c.items.Clear()
	return n
}
