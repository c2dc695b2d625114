package connection

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rickgao/wsclient/internal/transport"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrInvalidURL   = errors.New("invalid websocket url")
	ErrDecode       = errors.New("decode inbound frame")
)

// ReconnectDelay is the fixed wait between a close or error and the next attempt.
const ReconnectDelay = 1000 * time.Millisecond

// Status is the connection status published on the status stream.
type Status uint8

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusClosing
	StatusClosed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusOpen:
		return "OPEN"
	case StatusClosing:
		return "CLOSING"
	case StatusClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Message is a decoded inbound frame.
type Message struct {
	ConnID     string    // Connection that delivered the frame
	ReceivedAt time.Time // Local timestamp when the frame was read
	Payload    any       // Decoded structured value
}

// EventType names a lifecycle event.
type EventType string

const (
	EventOpened EventType = "opened"
	EventClosed EventType = "closed"
	EventError  EventType = "error"
)

// Event is a lifecycle notification for one connection.
type Event struct {
	Type   EventType
	ConnID string
	Err    error // Set for EventError; the read error for EventClosed, if any
	At     time.Time
}

// Config configures a Client.
type Config struct {
	URL              string        // ws:// or wss:// endpoint
	Transport        string        // "gorilla" (default) or "coder"
	HandshakeTimeout time.Duration // Max time for the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends
	ReadLimit        int64         // Max inbound frame size in bytes
	UserAgent        string        // User-Agent sent with the handshake
	Header           http.Header   // Extra handshake headers
}

// DefaultConfig returns sensible defaults. URL must still be set.
func DefaultConfig() Config {
	return Config{
		Transport:        transport.NameGorilla,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        16 << 20,
	}
}

// Validate checks the endpoint URL.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// Stats provides counters about the client.
type Stats struct {
	Attempts            int64 // Connection attempts started
	Opens               int64 // Successful handshakes
	ReconnectsScheduled int64 // Reconnect timers armed
	TransportErrors     int64
	MessagesReceived    int64
	DecodeErrors        int64
	Sends               int64
	SendErrors          int64
}
