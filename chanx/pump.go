package chanx

import (
	"context"

	"github.com/baxromumarov/evchan"
)

// Pump moves events from r into a native Go channel with buffer size buf.
//
// The pump goroutine drains r with GetAll, sends each event, then sleeps on
// notifier until the next enqueue. notifier must be the semaphore r's
// channel was created with (see [evchan.WithNotifier]); otherwise the pump
// never wakes.
//
// The returned channel is closed when ctx is canceled. Events already
// drained from r but not yet sent at that point are dropped.
//
// Panics if notifier is nil or buf is negative.
func Pump[T any](
	ctx context.Context,
	r evchan.Reader[T],
	notifier *evchan.Semaphore,
	buf int,
) <-chan T {
	if notifier == nil {
		panic("chanx: Pump requires non-nil notifier")
	}
	if buf < 0 {
		panic("chanx: Pump requires buf >= 0")
	}

	out := make(chan T, buf)
	go func() {
		defer close(out)
		for {
			for _, v := range r.GetAll() {
				if err := Send(ctx, out, v); err != nil {
					return
				}
			}
			if err := notifier.AcquireContext(ctx); err != nil {
				return
			}
		}
	}()
	return out
}
