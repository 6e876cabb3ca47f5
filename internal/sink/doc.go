// Package sink implements the consumers attached to the fanout.
//
// Sinks:
//   - FileSink: CSV log of every event, flushed per record
//   - VisualizationSink: batches peak heights for a visual.Publisher
//   - DatabaseSink: batched inserts into the measured_events table
//
// Each sink runs on its own goroutine, reads its queue until the
// end-of-stream sentinel, then releases its resource. Cancelling the
// context passed to Run is a hard abort: the sink still cleans up and
// returns ctx.Err().
package sink
