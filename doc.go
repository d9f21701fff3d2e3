// Package evchan provides goroutine-safe event channels for passing
// discrete events between any number of producers and consumers.
//
// # Channels
//
// [Channel] is a multi-producer, multi-consumer FIFO queue. Create one
// with [New]:
//
//	ch, err := evchan.New[string](evchan.WithCapacity(128))
//	ch.Enqueue("hello")
//	v, ok := ch.Get()
//	all := ch.GetAll()
//
// No channel operation blocks. A channel bounded with [WithCapacity]
// never stalls a producer: when an enqueue would exceed the bound, the
// oldest item is evicted. A capacity of 0 is rejected with
// [ErrZeroCapacity].
//
// Events carrying several values use the [Pair] and [Triple] records,
// built in one call by [Enqueue2] and [Enqueue3].
//
// # Notification
//
// Consumers that want to sleep until something arrives pass a
// [Semaphore] with [WithNotifier]. The channel releases it once per
// enqueue. A woken consumer must still call [Channel.Get] or
// [Channel.GetAll] and must tolerate finding nothing, since one wakeup
// does not map to exactly one available item.
//
//	sem := evchan.NewCountingSemaphore()
//	ch, _ := evchan.New[int](evchan.WithNotifier(sem))
//	for sem.TryAcquireFor(time.Second) {
//	    for _, v := range ch.GetAll() {
//	        handle(v)
//	    }
//	}
//
// [Monitor] builds on the same mechanism to wait on several channels.
//
// # Views
//
// [Channel.Writer] and [Channel.Reader] return producer-only and
// consumer-only views sharing the channel's state.
//
// # Streams
//
// [WriteStream] lets a publisher emit events whether or not anyone is
// listening. A listener attaches with [WriteStream.Channel], which lazily
// creates a channel and returns a counted [ReadHandle]. The stream holds
// only a weak reference; once every handle is released the channel is
// destroyed and later events are discarded until someone attaches again.
//
// Without [WithAutoflush], events wait in a pending buffer until
// [WriteStream.Flush]. A flush with no listener attached discards them.
//
// [ReadStream] is the mirror image: it owns its channel from the start
// and hands producers a [Writer] through [ReadStream.Channel].
//
// # Subpackages
//
// [github.com/baxromumarov/evchan/chanx] bridges evchan channels and
// native Go channels. [github.com/baxromumarov/evchan/metrics] exports
// channel statistics to Prometheus. [github.com/baxromumarov/evchan/sched]
// provides interval timers and a watchdog that publish expiry events.
package evchan
