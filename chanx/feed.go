package chanx

import (
	"context"

	"github.com/baxromumarov/evchan"
)

// Feed enqueues every value received from in into w. It returns nil once
// in is closed, or the context error if ctx is canceled first.
func Feed[T any](ctx context.Context, in <-chan T, w evchan.Writer[T]) error {
	for {
		v, ok, err := Recv(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		w.Enqueue(v)
	}
}
