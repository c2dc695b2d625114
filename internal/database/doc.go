// Package database manages the PostgreSQL pool used by the recorder.
//
// The recorder writes two tables:
//   - ws_messages: every decoded inbound message with its connection id
//   - ws_events: status transitions and lifecycle events
//
// EnsureSchema creates both if they are missing.
package database
