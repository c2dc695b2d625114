// Package transport adapts WebSocket libraries to the small surface the
// connection supervisor needs: dial, read a frame, write a text frame, close.
//
// Two implementations are available:
//   - gorilla: github.com/gorilla/websocket (default)
//   - coder: github.com/coder/websocket
//
// A close frame from the peer is reported as *CloseError so callers can tell
// an orderly close from a transport failure.
package transport
