// Package pipeline runs one acquisition: connection, decoding, fanout and
// sinks, and the orderly shutdown that ties them together.
//
// A Coordinator moves through Running, Stopping and Stopped exactly once.
// Any trigger (operator stop, parent context, remote close, connection
// failure, event limit, framing abort or a failed sink) starts Stopping:
// the connection is closed, frames already read are decoded and
// delivered, every sink queue receives its end-of-stream sentinel, and
// the sinks are joined within the drain timeout.
package pipeline
