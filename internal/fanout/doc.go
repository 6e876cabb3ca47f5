// Package fanout delivers every decoded event to each registered consumer.
//
// Each consumer owns one Queue with exactly one writer (the Fanout) and one
// reader (its sink). Deliver never waits for a reader; queues grow instead.
// Close pushes the end-of-stream sentinel into every queue exactly once,
// after the last delivered event.
package fanout
