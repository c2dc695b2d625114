package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/wsclient/internal/transport"
)

// eventKind identifies a reaction for the event loop.
type eventKind uint8

const (
	evOpen eventKind = iota
	evClose
	evError
	evFrame
	evReconnect
	evShutdown
)

// event is posted to the client's event loop.
type event struct {
	kind   eventKind
	handle *handle
	err    error
	data   []byte
	at     time.Time
	gen    uint64        // reconnect timer generation
	ack    chan struct{} // closed once a shutdown request is applied
}

// handle is one connection attempt. It owns its transport connection and
// read loop and is discarded, never reused, once it reports closed.
type handle struct {
	id     string
	logger *slog.Logger

	mu             sync.Mutex
	conn           transport.Conn
	closeRequested bool
}

func newHandle(id string, logger *slog.Logger) *handle {
	return &handle{
		id:     id,
		logger: logger.With("conn_id", id),
	}
}

// connection returns the dialed connection, or nil while dialing.
func (h *handle) connection() transport.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

func (h *handle) closing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeRequested
}

// requestClose asks the connection to close without waiting for it.
// An in-flight dial is allowed to finish and is closed right after.
func (h *handle) requestClose() {
	h.mu.Lock()
	if h.closeRequested {
		h.mu.Unlock()
		return
	}
	h.closeRequested = true
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		go func() {
			if err := conn.Close(); err != nil {
				h.logger.Debug("close returned error", "error", err)
			}
		}()
	}
}

// run dials, then reads frames until the connection ends. Every outcome is
// posted to the event loop; run never touches client state directly.
func (h *handle) run(dialer transport.Dialer, url string, header http.Header, post func(event)) {
	conn, err := dialer.Dial(context.Background(), url, header)
	if err != nil {
		if !h.closing() {
			post(event{kind: evError, handle: h, err: err, at: time.Now()})
		}
		post(event{kind: evClose, handle: h, err: err, at: time.Now()})
		return
	}

	h.mu.Lock()
	if h.closeRequested {
		h.mu.Unlock()
		if err := conn.Close(); err != nil {
			h.logger.Debug("close after dial returned error", "error", err)
		}
		post(event{kind: evClose, handle: h, at: time.Now()})
		return
	}
	h.conn = conn
	h.mu.Unlock()

	post(event{kind: evOpen, handle: h, at: time.Now()})

	for {
		data, err := conn.Read(context.Background())
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			_ = conn.Close()

			// A close frame, or a read failing because we asked to close,
			// is an orderly close. Anything else is a transport error.
			if !h.closing() && !transport.IsClose(err) {
				post(event{kind: evError, handle: h, err: err, at: receivedAt})
			}
			post(event{kind: evClose, handle: h, err: err, at: receivedAt})
			return
		}

		post(event{kind: evFrame, handle: h, data: data, at: receivedAt})
	}
}
