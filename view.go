package evchan

// Writer is the producer side of a channel.
type Writer[T any] interface {
	ID() uint32
	Enqueue(v T)
}

// Reader is the consumer side of a channel.
type Reader[T any] interface {
	ID() uint32
	Empty() bool
	Size() int
	Get() (T, bool)
	GetAll() []T
}

var (
	_ Writer[int] = (*Channel[int])(nil)
	_ Reader[int] = (*Channel[int])(nil)
	_ Writer[int] = writeView[int]{}
	_ Reader[int] = readView[int]{}
)

// Writer returns a producer-only view of c. The view shares c's state;
// it cannot be converted back into the channel or a [Reader].
func (c *Channel[T]) Writer() Writer[T] {
	return writeView[T]{c: c}
}

// Reader returns a consumer-only view of c. The view shares c's state;
// it cannot be converted back into the channel or a [Writer].
func (c *Channel[T]) Reader() Reader[T] {
	return readView[T]{c: c}
}

type writeView[T any] struct {
	c *Channel[T]
}

func (w writeView[T]) ID() uint32 { return w.c.ID() }
func (w writeView[T]) Enqueue(v T) { w.c.Enqueue(v) }

type readView[T any] struct {
	c *Channel[T]
}

func (r readView[T]) ID() uint32 { return r.c.ID() }
func (r readView[T]) Empty() bool { return r.c.Empty() }
func (r readView[T]) Size() int { return r.c.Size() }
func (r readView[T]) Get() (T, bool) { return r.c.Get() }
func (r readView[T]) GetAll() []T { return r.c.GetAll() }
