// Package connection implements a self-healing WebSocket client.
//
// The Client:
//   - Dials the configured endpoint as soon as it is constructed
//   - Reconnects a fixed ReconnectDelay after any close or transport error
//   - Publishes every status transition on a replay-last-value stream
//   - Fans decoded inbound frames out to message subscribers
//   - Emits "opened", "closed" and "error" lifecycle events
//   - Writes outbound values best-effort on the current connection
//
// All client state is owned by a single event-loop goroutine. Dial
// goroutines, read loops and the reconnect timer only post events to it, so
// reactions never overlap and at most one reconnect is ever pending.
//
// # Status transitions
//
//	CONNECTING -> OPEN        handshake succeeded
//	OPEN       -> CLOSED      socket closed or failed
//	CLOSED     -> CONNECTING  reconnect timer fired
//	any        -> CLOSING     Shutdown called
//	CLOSING    -> CLOSED      terminal, no further transitions
package connection
