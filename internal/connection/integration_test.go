package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/wsclient/internal/logging"
	"github.com/rickgao/wsclient/internal/transport"
)

// mockServer is a WebSocket endpoint that hands each accepted connection to
// the test and forwards every text frame it reads.
type mockServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	received chan string
}

func newMockServer(t *testing.T) *mockServer {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	s := &mockServer{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan string, 64),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		s.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.received <- string(msg)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *mockServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *mockServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (s *mockServer) expectNoConn(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-s.conns:
		t.Fatal("unexpected reconnect")
	case <-time.After(wait):
	}
}

func closeFromServer(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	require.NoError(t, err)
}

func TestClient_EndToEnd(t *testing.T) {
	for _, name := range []string{transport.NameGorilla, transport.NameCoder} {
		t.Run(name, func(t *testing.T) {
			server := newMockServer(t)

			cfg := DefaultConfig()
			cfg.URL = server.url()
			cfg.Transport = name

			c, err := newClient(cfg, WithLogger(logging.Nop()))
			require.NoError(t, err)

			status := c.StatusStream().Subscribe()
			defer status.Unsubscribe()
			messages := c.MessageStream().Subscribe()
			defer messages.Unsubscribe()

			go c.loop()
			defer c.Shutdown()

			expectStatuses(t, status, StatusConnecting)
			serverConn := server.accept(t)
			expectStatuses(t, status, StatusOpen)

			require.NoError(t, c.Send(map[string]any{"a": 1}))
			select {
			case got := <-server.received:
				assert.Equal(t, `{"a":1}`, got)
			case <-time.After(time.Second):
				t.Fatal("server received nothing")
			}

			require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"b":2}`)))
			msg := recv(t, messages)
			assert.Equal(t, map[string]any{"b": float64(2)}, msg.Payload)

			closeFromServer(t, serverConn)
			expectStatuses(t, status, StatusClosed)

			// Reconnects after the fixed delay.
			expectStatuses(t, status, StatusConnecting)
			server.accept(t)
			expectStatuses(t, status, StatusOpen)
		})
	}
}

func TestClient_EndToEndShutdown(t *testing.T) {
	server := newMockServer(t)

	c, err := newClient(Config{URL: server.url()}, WithLogger(logging.Nop()))
	require.NoError(t, err)

	status := c.StatusStream().Subscribe()
	defer status.Unsubscribe()
	go c.loop()

	server.accept(t)
	expectStatuses(t, status, StatusConnecting, StatusOpen)

	c.Shutdown()
	expectStatuses(t, status, StatusClosing, StatusClosed)

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop")
	}

	server.expectNoConn(t, ReconnectDelay+300*time.Millisecond)
	assert.Equal(t, StatusClosed, c.Status())
	assert.ErrorIs(t, c.Send(map[string]any{"a": 1}), ErrNotConnected)
}

func TestClient_EndpointDownKeepsRetrying(t *testing.T) {
	server := newMockServer(t)
	url := server.url()
	server.Close()

	d, err := transport.ForName(transport.NameGorilla, transport.Options{HandshakeTimeout: time.Second})
	require.NoError(t, err)

	c, err := newClient(Config{URL: url}, WithDialer(d), WithLogger(logging.Nop()))
	require.NoError(t, err)
	c.reconnectDelay = 20 * time.Millisecond

	events := c.EventStream().Subscribe()
	defer events.Unsubscribe()

	go c.loop()
	defer c.Shutdown()

	for i := 0; i < 3; i++ {
		expectEvent(t, events, EventError)
		expectEvent(t, events, EventClosed)
	}
	assert.GreaterOrEqual(t, c.Stats().Attempts, int64(3))
}

func TestNew_ConnectsWithoutBlocking(t *testing.T) {
	server := newMockServer(t)

	c, err := New(Config{URL: server.url()}, WithLogger(logging.Nop()))
	require.NoError(t, err)
	defer c.Shutdown()

	server.accept(t)
	assert.Eventually(t, func() bool {
		return c.Status() == StatusOpen
	}, 3*time.Second, 10*time.Millisecond)
}
