package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// hubServer upgrades every request and hands the socket and the handshake
// request to handler. The socket is closed when handler returns.
func hubServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(server.Close)

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// drain reads until the peer goes away so control frames get processed.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func dial(t *testing.T, cfg ClientConfig) Client {
	t.Helper()
	c := NewClient(cfg, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_HandshakeHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := hubServer(t, func(r *http.Request, conn *websocket.Conn) {
		headers <- r.Header.Clone()
		drain(conn)
	})

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	cfg.Header = map[string]string{
		"Authorization": "Bearer tok-1",
		"User-Agent":    "hubwatch/test",
	}
	c := dial(t, cfg)

	if !c.IsConnected() {
		t.Error("IsConnected = false after Connect")
	}

	select {
	case h := <-headers:
		if got := h.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := h.Get("User-Agent"); got != "hubwatch/test" {
			t.Errorf("User-Agent = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never reached the server")
	}
}

func TestClient_SendAndReceive(t *testing.T) {
	server := hubServer(t, func(r *http.Request, conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// Echo twice so ordering is visible.
			conn.WriteMessage(websocket.TextMessage, append([]byte("1:"), data...))
			conn.WriteMessage(websocket.TextMessage, append([]byte("2:"), data...))
		}
	})

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	c := dial(t, cfg)

	if err := c.Send([]byte(`{"type":"rule:ListRules"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for _, want := range []string{`1:{"type":"rule:ListRules"}`, `2:{"type":"rule:ListRules"}`} {
		select {
		case msg := <-c.Messages():
			if string(msg.Data) != want {
				t.Errorf("Data = %s, want %s", msg.Data, want)
			}
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt not set")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestClient_WriteDeadline(t *testing.T) {
	release := make(chan struct{})
	server := hubServer(t, func(r *http.Request, conn *websocket.Conn) {
		// Never read, so the client's writes back up.
		<-release
	})
	defer close(release)

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	cfg.WriteTimeout = 50 * time.Millisecond
	cfg.PingInterval = 0
	c := dial(t, cfg)

	payload := make([]byte, 1<<20)
	errCh := make(chan error, 1)
	go func() {
		for i := 0; i < 512; i++ {
			if err := c.Send(payload); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			t.Errorf("Send error = %v, want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked past the write deadline")
	}
}

func TestClient_Heartbeat(t *testing.T) {
	tests := []struct {
		name         string
		pingInterval time.Duration
		wantPings    bool
	}{
		{"disabled", 0, false},
		{"enabled", 20 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pings atomic.Int32
			server := hubServer(t, func(r *http.Request, conn *websocket.Conn) {
				conn.SetPingHandler(func(string) error {
					pings.Add(1)
					return nil
				})
				drain(conn)
			})

			cfg := DefaultClientConfig()
			cfg.URL = wsURL(server)
			cfg.PingInterval = tt.pingInterval
			cfg.PingTimeout = 0
			dial(t, cfg)

			time.Sleep(200 * time.Millisecond)

			if got := pings.Load() > 0; got != tt.wantPings {
				t.Errorf("server saw %d pings, want pings = %v", pings.Load(), tt.wantPings)
			}
		})
	}
}

func TestClient_AnswersServerPing(t *testing.T) {
	pong := make(chan string, 1)
	server := hubServer(t, func(r *http.Request, conn *websocket.Conn) {
		conn.SetPongHandler(func(data string) error {
			pong <- data
			return nil
		})
		conn.WriteControl(websocket.PingMessage, []byte("hub-ping"), time.Now().Add(time.Second))
		drain(conn)
	})

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	dial(t, cfg)

	select {
	case data := <-pong:
		if data != "hub-ping" {
			t.Errorf("pong payload = %q, want hub-ping", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never answered the server ping")
	}
}

func TestClient_StaleConnection(t *testing.T) {
	server := hubServer(t, func(r *http.Request, conn *websocket.Conn) {
		// Swallow pings without answering.
		conn.SetPingHandler(func(string) error { return nil })
		drain(conn)
	})

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 60 * time.Millisecond
	c := dial(t, cfg)

	select {
	case _, ok := <-c.Messages():
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stale connection was not torn down")
	}

	if c.IsConnected() {
		t.Error("IsConnected = true after going stale")
	}
	if !errors.Is(c.Err(), ErrStaleConnection) {
		t.Errorf("Err = %v, want ErrStaleConnection", c.Err())
	}
	if got := closeCode(c.Err()); got != CloseAbnormal {
		t.Errorf("closeCode = %d, want %d", got, CloseAbnormal)
	}
}

func TestClient_ServerCloseEndsMessages(t *testing.T) {
	server := hubServer(t, func(r *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"base:ValueChange"}`))
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseSessionEnded, "session ended"),
			time.Now().Add(time.Second),
		)
		time.Sleep(100 * time.Millisecond)
	})

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	c := dial(t, cfg)

	var received int
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case _, ok := <-c.Messages():
			if !ok {
				done = true
				break
			}
			received++
		case <-timeout:
			t.Fatal("timeout waiting for messages channel to close")
		}
	}

	// The frame sent before the close must be delivered first.
	if received != 1 {
		t.Errorf("received %d messages before close, want 1", received)
	}
	if c.IsConnected() {
		t.Error("IsConnected = true after server close")
	}
	if got := closeCode(c.Err()); got != CloseSessionEnded {
		t.Errorf("closeCode = %d, want %d", got, CloseSessionEnded)
	}
}

func TestClient_CloseSendsNormalClosure(t *testing.T) {
	closeErr := make(chan error, 1)
	server := hubServer(t, func(r *http.Request, conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		closeErr <- err
	})

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	c := dial(t, cfg)

	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if err := c.Send([]byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Close = %v, want ErrNotConnected", err)
	}

	select {
	case err := <-closeErr:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("server read error = %v, want normal closure", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close frame")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(DefaultClientConfig(), nil)
	if err := c.Send([]byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before Connect = %v, want ErrNotConnected", err)
	}

	c.Close()
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := DefaultClientConfig()
	cfg.URL = wsURL(server)
	if _, err := DialWebsocket(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected handshake error from a non-websocket endpoint")
	}
}

func TestCloseCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"normal close frame", &websocket.CloseError{Code: CloseNormal}, CloseNormal},
		{"session ended", &websocket.CloseError{Code: CloseSessionEnded}, CloseSessionEnded},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, websocket.CloseGoingAway},
		{"stale", ErrStaleConnection, CloseAbnormal},
		{"network error", errors.New("connection reset by peer"), CloseAbnormal},
		{"nil", nil, CloseAbnormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := closeCode(tt.err); got != tt.want {
				t.Errorf("closeCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	if clientCfg.PingTimeout != 60*time.Second {
		t.Errorf("PingTimeout = %v, want 60s", clientCfg.PingTimeout)
	}
	if clientCfg.BufferSize != 1000 {
		t.Errorf("BufferSize = %d, want 1000", clientCfg.BufferSize)
	}

	mgrCfg := DefaultManagerConfig()
	if mgrCfg.RequestTimeout != 50*time.Second {
		t.Errorf("RequestTimeout = %v, want 50s", mgrCfg.RequestTimeout)
	}
	if mgrCfg.BackoffInitial != 100*time.Millisecond {
		t.Errorf("BackoffInitial = %v, want 100ms", mgrCfg.BackoffInitial)
	}
	if mgrCfg.BackoffMax != 30*time.Second {
		t.Errorf("BackoffMax = %v, want 30s", mgrCfg.BackoffMax)
	}
	if mgrCfg.MaxListeners != 100 {
		t.Errorf("MaxListeners = %d, want 100", mgrCfg.MaxListeners)
	}
}
