// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Frame and event rates, framing errors by kind
//   - Per-consumer queue depth and per-sink throughput
//   - Visualization batches and database flush latency
//   - Pipeline state
//
// Collectors live on a Metrics value registered against an explicit
// Registerer, so each run (and each test) owns its own registry.
package metrics
