// Package connection implements the instrument Connection component.
//
// The Connection:
//   - Owns exactly one WebSocket to the instrument
//   - Yields every received message as a Frame, in arrival order
//   - Ends the frame stream with a terminal reason (closed, cancelled, failed)
//   - Never reconnects; a new run needs a new Client
package connection
