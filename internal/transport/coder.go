package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Coder dials with github.com/coder/websocket.
type Coder struct {
	opts Options
}

// NewCoder creates a coder-backed dialer.
func NewCoder(opts Options) *Coder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coder{opts: opts}
}

// Dial performs the opening handshake, bounded by ctx and HandshakeTimeout.
func (d *Coder) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	if d.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return nil, err
	}

	if d.opts.ReadLimit > 0 {
		conn.SetReadLimit(d.opts.ReadLimit)
	}

	return &coderConn{conn: conn, opts: d.opts}, nil
}

type coderConn struct {
	conn *websocket.Conn
	opts Options
}

func (c *coderConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, &CloseError{Code: int(status), Reason: closeReason(err)}
		}
		return nil, err
	}
	return data, nil
}

func (c *coderConn) WriteText(ctx context.Context, data []byte) error {
	if c.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.WriteTimeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close waits (bounded by the library) for the peer to acknowledge.
func (c *coderConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
