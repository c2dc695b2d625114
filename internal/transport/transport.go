package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Transport names accepted by ForName.
const (
	NameGorilla = "gorilla"
	NameCoder   = "coder"
)

// ErrUnknownTransport is returned by ForName for an unregistered name.
var ErrUnknownTransport = errors.New("unknown transport")

// Conn is one established WebSocket connection.
type Conn interface {
	// Read blocks until the next data frame arrives.
	Read(ctx context.Context) ([]byte, error)

	// WriteText writes data as a single text frame. Safe for concurrent use.
	WriteText(ctx context.Context, data []byte) error

	// Close sends a normal-closure frame and releases the connection.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// CloseError reports that the peer ended the connection with a close frame
// (or that the library synthesized one for an abrupt disconnect).
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed: %d", e.Code)
	}
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Reason)
}

// IsClose reports whether err is a close frame rather than a transport failure.
func IsClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce)
}

// Options configures a Dialer.
type Options struct {
	HandshakeTimeout time.Duration // Max time for the opening handshake
	WriteTimeout     time.Duration // Deadline applied to every write
	ReadLimit        int64         // Max inbound frame size (0 = library default)
	Logger           *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        16 << 20,
	}
}

// ForName returns the dialer registered under name. Empty means gorilla.
func ForName(name string, opts Options) (Dialer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch name {
	case "", NameGorilla:
		return NewGorilla(opts), nil
	case NameCoder:
		return NewCoder(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
}
