// Package visual delivers batches of peak heights to a live renderer.
//
// A Publisher receives batches from the visualization sink and an
// end-of-stream call when the run finishes. Three implementations exist:
//
//   - HistogramRenderer accumulates batches in-process into a histogram
//     that the status server exposes and the CLI prints at shutdown.
//   - ProcessPublisher pipes batches to a child renderer process as
//     length-prefixed msgpack messages on its stdin.
//   - NATSPublisher publishes the same msgpack messages on a NATS subject.
//
// Publish never blocks on the renderer: slow renderers buffer, they do not
// stall acquisition.
package visual
