package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/wsclient/internal/broadcast"
	"github.com/rickgao/wsclient/internal/codec"
	"github.com/rickgao/wsclient/internal/transport"
)

// inboxSize bounds events waiting for the loop. Posters block when it is full.
const inboxSize = 256

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the transport selected by Config.Transport.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithCodec replaces the JSON wire codec.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) {
		c.codec = cd
	}
}

// Client is a self-healing WebSocket connection.
type Client struct {
	cfg            Config
	logger         *slog.Logger
	dialer         transport.Dialer
	codec          codec.Codec
	header         http.Header
	reconnectDelay time.Duration

	// Output streams
	status   *broadcast.Replay[Status]
	messages *broadcast.Subject[Message]
	events   *broadcast.Subject[Event]

	inbox        chan event
	done         chan struct{}
	shutdownOnce sync.Once

	// Owned by the event loop
	current      *handle
	timer        *time.Timer
	timerGen     uint64
	shuttingDown bool
	terminal     bool

	// Read by Send from any goroutine
	active atomic.Pointer[handle]

	stats struct {
		attempts, opens, reconnects, transportErrors atomic.Int64
		messages, decodeErrors, sends, sendErrors    atomic.Int64
	}
}

// New validates cfg and starts connecting. It does not wait for the network:
// the status is CONNECTING when New returns.
func New(cfg Config, opts ...Option) (*Client, error) {
	c, err := newClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	go c.loop()
	return c, nil
}

func newClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:            cfg,
		reconnectDelay: ReconnectDelay,
		status:         broadcast.NewReplay(StatusConnecting),
		messages:       broadcast.NewSubject[Message](),
		events:         broadcast.NewSubject[Event](),
		inbox:          make(chan event, inboxSize),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.codec == nil {
		c.codec = codec.JSON{}
	}
	if c.dialer == nil {
		d, err := transport.ForName(cfg.Transport, transport.Options{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			ReadLimit:        cfg.ReadLimit,
			Logger:           c.logger,
		})
		if err != nil {
			return nil, err
		}
		c.dialer = d
	}

	c.header = cfg.Header.Clone()
	if c.header == nil {
		c.header = http.Header{}
	}
	if cfg.UserAgent != "" && c.header.Get("User-Agent") == "" {
		c.header.Set("User-Agent", cfg.UserAgent)
	}

	return c, nil
}

// StatusStream returns the replay-last-value status stream.
func (c *Client) StatusStream() broadcast.Stream[Status] {
	return c.status
}

// MessageStream returns the stream of decoded inbound frames. Subscribers
// only receive frames that arrive after they subscribe.
func (c *Client) MessageStream() broadcast.Stream[Message] {
	return c.messages
}

// EventStream returns the stream of opened/closed/error lifecycle events.
func (c *Client) EventStream() broadcast.Stream[Event] {
	return c.events
}

// Status returns the current status.
func (c *Client) Status() Status {
	return c.status.Current()
}

// Done is closed once the client reached its terminal CLOSED status and all
// streams were closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	return Stats{
		Attempts:            c.stats.attempts.Load(),
		Opens:               c.stats.opens.Load(),
		ReconnectsScheduled: c.stats.reconnects.Load(),
		TransportErrors:     c.stats.transportErrors.Load(),
		MessagesReceived:    c.stats.messages.Load(),
		DecodeErrors:        c.stats.decodeErrors.Load(),
		Sends:               c.stats.sends.Load(),
		SendErrors:          c.stats.sendErrors.Load(),
	}
}

// Send encodes v and writes it to the current connection. The connection is
// not required to be OPEN and nothing is queued or retried: without a dialed
// connection Send returns ErrNotConnected, otherwise the transport's error.
func (c *Client) Send(v any) error {
	return c.SendContext(context.Background(), v)
}

// SendContext is Send with a deadline for the write.
func (c *Client) SendContext(ctx context.Context, v any) error {
	data, err := c.codec.Encode(v)
	if err != nil {
		c.stats.sendErrors.Add(1)
		return err
	}

	h := c.active.Load()
	if h == nil {
		c.stats.sendErrors.Add(1)
		return ErrNotConnected
	}
	conn := h.connection()
	if conn == nil {
		c.stats.sendErrors.Add(1)
		return ErrNotConnected
	}

	if err := conn.WriteText(ctx, data); err != nil {
		c.stats.sendErrors.Add(1)
		return fmt.Errorf("send on %s: %w", h.id, err)
	}
	c.stats.sends.Add(1)
	return nil
}

// Shutdown disables reconnection for good, publishes CLOSING and asks the
// current connection to close. It returns without waiting for the close;
// CLOSED follows on the status stream and then Done is closed.
// Calling it again is a no-op.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		ack := make(chan struct{})
		c.post(event{kind: evShutdown, ack: ack})
		select {
		case <-ack:
		case <-c.done:
		}
	})
}

// post hands an event to the loop. Dropped once the loop has exited.
func (c *Client) post(ev event) {
	select {
	case c.inbox <- ev:
	case <-c.done:
	}
}

// loop is the only goroutine that reads or writes client state.
func (c *Client) loop() {
	c.connect()

	for !c.terminal {
		ev := <-c.inbox
		c.react(ev)
	}

	c.logger.Info("websocket client stopped")
	c.active.Store(nil)
	c.status.Close()
	c.messages.Close()
	c.events.Close()
	close(c.done)
}

func (c *Client) react(ev event) {
	if ev.handle != nil && ev.handle != c.current {
		// Events from a discarded handle have no effect.
		c.logger.Debug("ignoring event from discarded connection", "conn_id", ev.handle.id, "kind", ev.kind)
		return
	}

	switch ev.kind {
	case evOpen:
		c.onOpen(ev)
	case evClose:
		c.onClose(ev)
	case evError:
		c.onError(ev)
	case evFrame:
		c.onFrame(ev)
	case evReconnect:
		if ev.gen != c.timerGen || c.shuttingDown {
			return
		}
		c.timer = nil
		c.connect()
	case evShutdown:
		c.onShutdown(ev)
	}
}

// connect starts a new attempt on a fresh handle.
func (c *Client) connect() {
	if old := c.current; old != nil {
		old.requestClose()
	}

	h := newHandle(uuid.NewString(), c.logger)
	c.current = h
	c.active.Store(h)
	c.stats.attempts.Add(1)
	c.setStatus(StatusConnecting)

	h.logger.Debug("connecting", "url", c.cfg.URL)
	go h.run(c.dialer, c.cfg.URL, c.header, c.post)
}

func (c *Client) onOpen(ev event) {
	c.stats.opens.Add(1)
	c.setStatus(StatusOpen)
	c.events.Publish(Event{Type: EventOpened, ConnID: ev.handle.id, At: ev.at})
	ev.handle.logger.Info("websocket connected", "url", c.cfg.URL)
}

func (c *Client) onClose(ev event) {
	c.current = nil
	c.active.CompareAndSwap(ev.handle, nil)

	c.setStatus(StatusClosed)
	c.events.Publish(Event{Type: EventClosed, ConnID: ev.handle.id, Err: ev.err, At: ev.at})

	if c.shuttingDown {
		ev.handle.logger.Info("websocket closed")
		c.terminal = true
		return
	}

	ev.handle.logger.Info("websocket closed, reconnecting", "delay", c.reconnectDelay)
	c.scheduleReconnect()
}

func (c *Client) onError(ev event) {
	c.stats.transportErrors.Add(1)
	ev.handle.logger.Error("websocket error", "error", ev.err)
	c.events.Publish(Event{Type: EventError, ConnID: ev.handle.id, Err: ev.err, At: ev.at})

	if !c.shuttingDown {
		c.scheduleReconnect()
	}
}

// onFrame decodes and publishes a frame. A frame that does not decode is
// dropped and reported as an error event; the connection stays up.
func (c *Client) onFrame(ev event) {
	payload, err := c.codec.Decode(ev.data)
	if err != nil {
		c.stats.decodeErrors.Add(1)
		ev.handle.logger.Warn("dropping undecodable frame", "error", err, "size", len(ev.data))
		c.events.Publish(Event{
			Type:   EventError,
			ConnID: ev.handle.id,
			Err:    fmt.Errorf("%w: %w", ErrDecode, err),
			At:     ev.at,
		})
		return
	}

	c.stats.messages.Add(1)
	c.messages.Publish(Message{
		ConnID:     ev.handle.id,
		ReceivedAt: ev.at,
		Payload:    payload,
	})
}

func (c *Client) onShutdown(ev event) {
	c.shuttingDown = true
	c.cancelReconnect()
	c.setStatus(StatusClosing)

	if c.current != nil {
		c.current.requestClose()
	} else {
		// Nothing left to close, so no close event will follow.
		c.setStatus(StatusClosed)
		c.terminal = true
	}

	c.logger.Info("websocket client shutting down")
	close(ev.ack)
}

// scheduleReconnect arms the reconnect timer, cancelling any pending one.
func (c *Client) scheduleReconnect() {
	c.cancelReconnect()

	gen := c.timerGen
	c.stats.reconnects.Add(1)
	c.timer = time.AfterFunc(c.reconnectDelay, func() {
		c.post(event{kind: evReconnect, gen: gen})
	})
}

// cancelReconnect stops the pending timer. Bumping the generation also voids
// a firing that is already queued.
func (c *Client) cancelReconnect() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

// setStatus publishes s unless it is already current.
func (c *Client) setStatus(s Status) {
	if c.status.Current() == s {
		return
	}
	c.status.Publish(s)
}
