// Package chanx bridges evchan channels and native Go channels.
//
// evchan channels never block and are polled; Go channels block and are
// selected on. chanx connects the two:
//
//   - [Pump]: drains an [evchan.Reader] into a Go channel, sleeping on the
//     reader's notifier semaphore between drains.
//   - [Feed]: copies a Go channel into an [evchan.Writer] until the source
//     is closed.
//   - [Send] and [Recv]: context-aware send and receive that unblock on
//     cancellation instead of leaking goroutines.
//
// Every goroutine started here is tied to a [context.Context] and exits
// when it is canceled.
package chanx
