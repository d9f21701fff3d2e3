package evchan

import (
	"fmt"
	"sync"
	"weak"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

type streamConfig struct {
	autoflush   bool
	logger      *zap.Logger
	channelOpts []Option
}

// StreamOption configures a [WriteStream].
type StreamOption func(*streamConfig)

// WithAutoflush makes [WriteStream.Enqueue] forward each event straight to
// the bound channel instead of buffering it until [WriteStream.Flush].
// Events enqueued while no channel is bound are dropped.
func WithAutoflush(enabled bool) StreamOption {
	return func(c *streamConfig) {
		c.autoflush = enabled
	}
}

// WithStreamLogger sets the stream's logger. Channels created by the
// stream inherit it unless [WithChannelOptions] overrides it.
func WithStreamLogger(l *zap.Logger) StreamOption {
	return func(c *streamConfig) {
		if l == nil {
			l = zap.NewNop()
		}
		c.logger = l
	}
}

// WithChannelOptions sets the options applied to every channel the stream
// creates.
func WithChannelOptions(opts ...Option) StreamOption {
	return func(c *streamConfig) {
		c.channelOpts = append(c.channelOpts, opts...)
	}
}

// WriteStream publishes events without knowing whether anyone listens.
//
// A listener attaches by calling [WriteStream.Channel], which lazily
// creates a channel and returns a [ReadHandle] to it. The stream keeps only
// a weak reference: once every handle is released the channel is gone, and
// events published from then on are discarded until a listener attaches
// again (to a new channel with a new id).
type WriteStream[T any] struct {
	autoflush bool
	logger    *zap.Logger
	chanCfg   config

	// flushMu serializes flushes so pending events reach the channel in
	// order.
	flushMu sync.Mutex

	pendingMu sync.Mutex
	pending   deque.Deque[T]

	mu    sync.Mutex
	bound weak.Pointer[lease[T]]
}

// NewWriteStream creates a write stream. It fails if the channel options
// are invalid.
func NewWriteStream[T any](opts ...StreamOption) (*WriteStream[T], error) {
	sc := streamConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&sc)
	}

	cc := defaultConfig()
	cc.logger = sc.logger
	for _, opt := range sc.channelOpts {
		opt(&cc)
	}
	if err := cc.validate(); err != nil {
		return nil, fmt.Errorf("evchan: new write stream: %w", err)
	}

	return &WriteStream[T]{
		autoflush: sc.autoflush,
		logger:    sc.logger,
		chanCfg:   cc,
	}, nil
}

// Enqueue publishes v. With autoflush it is forwarded immediately, or
// dropped if no channel is bound. Otherwise it waits in the pending buffer
// for the next [WriteStream.Flush].
func (s *WriteStream[T]) Enqueue(v T) {
	if !s.autoflush {
		s.pendingMu.Lock()
		s.pending.PushBack(v)
		s.pendingMu.Unlock()
		return
	}

	l := s.upgrade()
	if l == nil {
		s.logger.Debug("no listener, dropping event")
		return
	}
	defer l.drop()
	l.ch.Enqueue(v)
}

// Flush drains the pending buffer into the bound channel, preserving order.
// If no channel is bound the drained events are discarded.
func (s *WriteStream[T]) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	events := s.takePending()
	if len(events) == 0 {
		return
	}

	l := s.upgrade()
	if l == nil {
		s.logger.Debug("no listener, discarding flushed events", zap.Int("count", len(events)))
		return
	}
	defer l.drop()

	for _, v := range events {
		l.ch.Enqueue(v)
	}
}

func (s *WriteStream[T]) takePending() []T {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	n := s.pending.Len()
	if n == 0 {
		return nil
	}
	events := make([]T, n)
	for i := range events {
		events[i] = s.pending.PopFront()
	}
	return events
}

// Pending returns the number of events waiting for the next flush.
func (s *WriteStream[T]) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.pending.Len()
}

// Channel returns a handle to the stream's channel, creating a new channel
// if none is currently alive. Repeated calls return handles to the same
// channel for as long as any handle to it is unreleased.
func (s *WriteStream[T]) Channel() *ReadHandle[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l := s.bound.Value(); l != nil && l.acquire() {
		return newReadHandle(l)
	}

	ch := newChannel[T](s.chanCfg)
	l := newLease(ch)
	s.bound = weak.Make(l)
	s.logger.Debug("bound new channel", zap.Uint32("channel_id", ch.ID()))
	return newReadHandle(l)
}

// Bound reports whether a live channel is currently attached.
func (s *WriteStream[T]) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.bound.Value()
	return l != nil && l.alive()
}

// upgrade returns the bound lease with an extra owner, or nil if no
// channel is alive. Callers must drop the lease when done.
func (s *WriteStream[T]) upgrade() *lease[T] {
	s.mu.Lock()
	l := s.bound.Value()
	s.mu.Unlock()
	if l == nil || !l.acquire() {
		return nil
	}
	return l
}

// ReadStream is a listener that owns its channel from construction on.
// Producers attach through [ReadStream.Channel].
type ReadStream[T any] struct {
	ch *Channel[T]
}

var _ Reader[int] = (*ReadStream[int])(nil)

// NewReadStream creates a read stream and its channel. The options apply
// to the channel.
func NewReadStream[T any](opts ...Option) (*ReadStream[T], error) {
	ch, err := New[T](opts...)
	if err != nil {
		return nil, fmt.Errorf("evchan: new read stream: %w", err)
	}
	return &ReadStream[T]{ch: ch}, nil
}

// Channel returns a producer handle into the stream's channel.
func (s *ReadStream[T]) Channel() Writer[T] {
	return s.ch.Writer()
}

// ID returns the id of the owned channel.
func (s *ReadStream[T]) ID() uint32 { return s.ch.ID() }

// Get removes and returns the oldest event.
func (s *ReadStream[T]) Get() (T, bool) { return s.ch.Get() }

// GetAll drains every queued event.
func (s *ReadStream[T]) GetAll() []T { return s.ch.GetAll() }

// Empty reports whether no events are queued.
func (s *ReadStream[T]) Empty() bool { return s.ch.Empty() }

// Size returns the number of queued events.
func (s *ReadStream[T]) Size() int { return s.ch.Size() }

// Stats returns a snapshot of the owned channel's counters.
func (s *ReadStream[T]) Stats() Stats { return s.ch.Stats() }
