package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/wsclient/internal/broadcast"
	"github.com/rickgao/wsclient/internal/logging"
	"github.com/rickgao/wsclient/internal/transport"
)

var errFakeClosed = errors.New("use of closed fake connection")

type readResult struct {
	data []byte
	err  error
}

// fakeConn is a scripted transport.Conn.
type fakeConn struct {
	reads     chan readResult
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan readResult, 16),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-c.reads:
		return r.data, r.err
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteText(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.writes <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(s string) { c.reads <- readResult{data: []byte(s)} }
func (c *fakeConn) fail(err error)   { c.reads <- readResult{err: err} }
func (c *fakeConn) peerClose() {
	c.reads <- readResult{err: &transport.CloseError{Code: 1000}}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// pendingDial is one Dial call waiting for the test to accept or refuse it.
type pendingDial struct {
	at     time.Time
	header http.Header
	conn   *fakeConn
	result chan error
}

func (p *pendingDial) accept() *fakeConn {
	p.result <- nil
	return p.conn
}

func (p *pendingDial) refuse(err error) {
	p.result <- err
}

// fakeDialer hands every Dial call to the test.
type fakeDialer struct {
	attempts chan *pendingDial
	stop     chan struct{}
}

func newFakeDialer(t *testing.T) *fakeDialer {
	d := &fakeDialer{
		attempts: make(chan *pendingDial, 16),
		stop:     make(chan struct{}),
	}
	t.Cleanup(func() { close(d.stop) })
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	p := &pendingDial{
		at:     time.Now(),
		header: header,
		conn:   newFakeConn(),
		result: make(chan error, 1),
	}
	d.attempts <- p

	select {
	case err := <-p.result:
		if err != nil {
			return nil, err
		}
		return p.conn, nil
	case <-d.stop:
		return nil, errors.New("dialer stopped")
	}
}

func (d *fakeDialer) next(t *testing.T) *pendingDial {
	t.Helper()
	select {
	case p := <-d.attempts:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func (d *fakeDialer) expectNoDial(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-d.attempts:
		t.Fatal("unexpected dial attempt")
	case <-time.After(wait):
	}
}

const testURL = "ws://example.test/ws"

// newTestClient starts a client on d with a short reconnect delay.
func newTestClient(t *testing.T, d transport.Dialer, delay time.Duration) *Client {
	t.Helper()
	c, err := newClient(Config{URL: testURL}, WithDialer(d), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}
	c.reconnectDelay = delay
	go c.loop()
	t.Cleanup(c.Shutdown)
	return c
}

func recv[T any](t *testing.T, sub *broadcast.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if !ok {
			t.Fatal("stream closed")
		}
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func expectStatuses(t *testing.T, sub *broadcast.Subscription[Status], want ...Status) {
	t.Helper()
	for i, w := range want {
		if got := recv(t, sub); got != w {
			t.Fatalf("status[%d] = %s, want %s", i, got, w)
		}
	}
}

func expectQuiet[T any](t *testing.T, sub *broadcast.Subscription[T], wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(wait):
	}
}

func expectEvent(t *testing.T, sub *broadcast.Subscription[Event], typ EventType) Event {
	t.Helper()
	ev := recv(t, sub)
	if ev.Type != typ {
		t.Fatalf("event = %s (err %v), want %s", ev.Type, ev.Err, typ)
	}
	return ev
}
