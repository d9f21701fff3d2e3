package evchan

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func mustWriteStream[T any](t testing.TB, opts ...StreamOption) *WriteStream[T] {
	t.Helper()
	s, err := NewWriteStream[T](opts...)
	require.NoError(t, err)
	return s
}

func TestWriteStreamFlushDeliversInOrder(t *testing.T) {
	s := mustWriteStream[string](t)
	h := s.Channel()
	defer h.Release()

	s.Enqueue("a")
	s.Enqueue("b")
	s.Enqueue("c")
	assert.Equal(t, 3, s.Pending())
	assert.True(t, h.Empty(), "nothing delivered before flush")

	s.Flush()
	assert.Zero(t, s.Pending())
	assert.Equal(t, []string{"a", "b", "c"}, h.GetAll())
}

func TestWriteStreamFlushWithoutListenerDiscards(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := mustWriteStream[string](t, WithStreamLogger(zap.New(core)))

	s.Enqueue("a")
	s.Enqueue("b")
	assert.NotPanics(t, s.Flush)
	assert.Zero(t, s.Pending(), "flush drains even without a listener")
	assert.Equal(t, 1, logs.FilterMessage("no listener, discarding flushed events").Len())

	h := s.Channel()
	defer h.Release()
	s.Flush()
	assert.True(t, h.Empty(), "late listener receives nothing from the earlier flush")
}

func TestWriteStreamAutoflush(t *testing.T) {
	s := mustWriteStream[int](t, WithAutoflush(true))

	s.Enqueue(1) // no listener yet: dropped
	h := s.Channel()
	defer h.Release()

	s.Enqueue(2)
	s.Enqueue(3)
	assert.Zero(t, s.Pending(), "autoflush never buffers")
	assert.Equal(t, []int{2, 3}, h.GetAll())
}

func TestWriteStreamChannelIsIdempotent(t *testing.T) {
	s := mustWriteStream[int](t)
	assert.False(t, s.Bound())

	h1 := s.Channel()
	h2 := s.Channel()
	assert.True(t, s.Bound())
	assert.Equal(t, h1.ID(), h2.ID())

	s.Enqueue(7)
	s.Flush()
	v, ok := h2.Get()
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.True(t, h1.Empty(), "both handles see the same channel")

	h1.Release()
	assert.True(t, s.Bound(), "h2 still holds the channel")
	h2.Release()
	assert.False(t, s.Bound())
}

func TestWriteStreamRebindsAfterRelease(t *testing.T) {
	s := mustWriteStream[int](t)

	h := s.Channel()
	first := h.ID()
	h.Release()
	assert.False(t, s.Bound())

	s.Enqueue(1)
	s.Flush() // dropped: nobody listening

	h = s.Channel()
	defer h.Release()
	assert.NotEqual(t, first, h.ID(), "a new channel gets a new id")
	assert.True(t, h.Empty())
}

func TestWriteStreamReleaseDiscardsQueuedEvents(t *testing.T) {
	s := mustWriteStream[int](t)
	h := s.Channel()
	clone := h.Clone()

	s.Enqueue(1)
	s.Flush()
	h.Release()
	assert.Equal(t, 1, clone.Size(), "clone keeps the channel alive")

	clone.Release()
	assert.False(t, s.Bound())
}

func TestReadHandleReleaseIsIdempotent(t *testing.T) {
	s := mustWriteStream[int](t)
	h := s.Channel()
	other := s.Channel()
	defer other.Release()

	h.Release()
	h.Release()
	assert.True(t, s.Bound(), "double release must not drop the other holder")
}

func TestReadHandleUseAfterRelease(t *testing.T) {
	s := mustWriteStream[int](t)
	h := s.Channel()
	h.Release()

	mustPanic(t, "use of released handle", func() { h.Get() })
	mustPanic(t, "use of released handle", func() { h.Clone() })
}

func TestReadHandleCollectedWithoutRelease(t *testing.T) {
	s := mustWriteStream[int](t)
	func() {
		h := s.Channel()
		_ = h.ID()
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return !s.Bound()
	}, 2*time.Second, 10*time.Millisecond, "unreachable handle should release the channel")
}

func TestWriteStreamChannelOptions(t *testing.T) {
	sem := NewCountingSemaphore()
	s := mustWriteStream[int](t, WithChannelOptions(WithCapacity(2), WithNotifier(sem)))
	h := s.Channel()
	defer h.Release()

	for i := range 4 {
		s.Enqueue(i)
	}
	s.Flush()
	assert.Equal(t, uint32(4), sem.Count())
	assert.Equal(t, []int{2, 3}, h.GetAll())
}

func TestWriteStreamInvalidChannelOptions(t *testing.T) {
	s, err := NewWriteStream[int](WithChannelOptions(WithCapacity(0)))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrZeroCapacity)
}

func TestWriteStreamConcurrentPublish(t *testing.T) {
	const producers, perProd = 6, 500
	s := mustWriteStream[int](t)
	h := s.Channel()
	defer h.Release()

	var g errgroup.Group
	for p := range producers {
		g.Go(func() error {
			for i := range perProd {
				s.Enqueue(p*perProd + i)
				if i%50 == 0 {
					s.Flush()
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	s.Flush()

	seen := make(map[int]bool)
	for _, v := range h.GetAll() {
		require.False(t, seen[v], "duplicate %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, producers*perProd)
}

// Handles are released while a publisher keeps forwarding; nothing may
// panic and the stream must end up unbound.
func TestWriteStreamConcurrentRelease(t *testing.T) {
	s := mustWriteStream[int](t, WithAutoflush(true))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			s.Enqueue(i)
		}
	}()
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			h := s.Channel()
			h.GetAll()
			h.Release()
		}
	}()
	wg.Wait()
	assert.False(t, s.Bound())
}

func TestReadStream(t *testing.T) {
	rs, err := NewReadStream[string]()
	require.NoError(t, err)
	assert.True(t, rs.Empty())

	w := rs.Channel()
	assert.Equal(t, rs.ID(), w.ID())
	w.Enqueue("x")
	w.Enqueue("y")
	assert.Equal(t, 2, rs.Size())

	v, ok := rs.Get()
	require.True(t, ok)
	assert.Equal(t, "x", v)
	assert.Equal(t, []string{"y"}, rs.GetAll())

	_, ok = rs.Get()
	assert.False(t, ok)
}

func TestReadStreamInvalidCapacity(t *testing.T) {
	rs, err := NewReadStream[int](WithCapacity(0))
	assert.Nil(t, rs)
	assert.ErrorIs(t, err, ErrZeroCapacity)
}

// T producers push N items each through handles from Channel(); a single
// consumer drains with GetAll until it has everything.
func TestReadStreamManyProducers(t *testing.T) {
	const producers, perProd = 8, 1000
	sem := NewCountingSemaphore()
	rs, err := NewReadStream[Pair[int, int]](WithNotifier(sem))
	require.NoError(t, err)

	var g errgroup.Group
	for p := range producers {
		w := rs.Channel()
		g.Go(func() error {
			for i := range perProd {
				Enqueue2(w, p, i)
			}
			return nil
		})
	}

	seen := make(map[Pair[int, int]]bool)
	deadline := time.Now().Add(5 * time.Second)
	for len(seen) < producers*perProd {
		if !sem.TryAcquireUntil(deadline) {
			t.Fatalf("timed out with %d of %d items", len(seen), producers*perProd)
		}
		for _, ev := range rs.GetAll() {
			require.False(t, seen[ev], "duplicate %v", ev)
			seen[ev] = true
		}
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, producers*perProd)
	assert.True(t, rs.Empty())
}

func TestWriteStreamDoesNotConsumeChannelIDs(t *testing.T) {
	before := mustNew[int](t)
	s := mustWriteStream[int](t)
	s.Enqueue(1)
	after := mustNew[int](t)
	assert.Equal(t, before.ID()+1, after.ID(), "ids of visible channels are consecutive")

	h := s.Channel()
	defer h.Release()
	assert.Equal(t, after.ID()+1, h.ID())
}

func TestReadHandleLiveStats(t *testing.T) {
	s := mustWriteStream[int](t)
	h := s.Channel()
	s.Enqueue(1)
	s.Flush()

	st, ok := h.LiveStats()
	require.True(t, ok)
	assert.Equal(t, h.ID(), st.ID)
	assert.Equal(t, 1, st.Size)
	assert.False(t, h.Released())

	h.Release()
	assert.True(t, h.Released())
	assert.NotPanics(t, func() {
		st, ok = h.LiveStats()
	})
	assert.False(t, ok)
	assert.Zero(t, st)
}

// A handle used only as a temporary stays alive for the whole call.
func TestReadHandleTemporaryUse(t *testing.T) {
	s := mustWriteStream[int](t)
	assert.NotPanics(t, func() {
		for i := range 200 {
			assert.True(t, s.Channel().Empty())
			assert.Zero(t, s.Channel().Size())
			_, ok := s.Channel().LiveStats()
			assert.True(t, ok)
			if i%20 == 0 {
				runtime.GC()
			}
		}
	})
}
