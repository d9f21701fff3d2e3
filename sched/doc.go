// Package sched provides interval timers and a watchdog that report
// expirations as evchan events.
//
// [IntervalTimer] tracks a recurring deadline and is driven by the caller.
// [RunTimer] drives one in a loop, publishing an [Expiry] per interval.
// [Watchdog] publishes a [Bite] when it is not reset in time.
//
// All time is read from a [clock.Clock] so tests can substitute a mock.
package sched
