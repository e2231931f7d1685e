package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"okxfeed/models"
)

// mockWSServer runs handler for every upgraded websocket connection.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
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
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoServer forwards every frame it reads to received.
func echoServer(t *testing.T, received chan<- string) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- string(data):
			default:
			}
		}
	})
}

func dialTest(t *testing.T, url string, handler Handler) Transport {
	t.Helper()
	d := NewDialer(DialerConfig{Source: models.Public, HandshakeTimeout: 2 * time.Second}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := d.Dial(ctx, url, handler)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() {
		tr.Close()
		tr.Wait()
	})
	return tr
}

func expectFrame(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected frame %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for frame %q", want)
	}
}

func TestDialSendAndPing(t *testing.T) {
	received := make(chan string, 10)
	server := echoServer(t, received)
	tr := dialTest(t, wsURL(server), nil)

	if tr.ID() == "" {
		t.Fatal("expected a transport id")
	}
	if err := tr.Send([]byte(`{"op":"subscribe","args":[]}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	expectFrame(t, received, `{"op":"subscribe","args":[]}`)

	if err := tr.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	expectFrame(t, received, "ping")
}

func TestHandlerReceivesFramesInOrder(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range []string{"first", "second", "pong"} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	got := make(chan string, 3)
	dialTest(t, wsURL(server), func(ctx context.Context, data []byte, receivedAt time.Time) {
		if receivedAt.IsZero() {
			t.Error("expected a receive timestamp")
		}
		got <- string(data)
	})

	for _, want := range []string{"first", "second", "pong"} {
		expectFrame(t, got, want)
	}
}

func TestServerCloseEndsTransport(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
			time.Now().Add(time.Second))
	})
	tr := dialTest(t, wsURL(server), nil)

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not end after server close")
	}
	if tr.Err() == nil {
		t.Fatal("expected a close cause")
	}
	var sendErr *models.SendError
	if err := tr.Send([]byte("x")); !errors.As(err, &sendErr) || !errors.Is(err, models.ErrNotConnected) {
		t.Fatalf("expected SendError wrapping ErrNotConnected, got %v", err)
	}
}

func TestCloseIsIdempotentAndJoins(t *testing.T) {
	server := echoServer(t, make(chan string, 1))
	tr := dialTest(t, wsURL(server), nil)

	tr.Close()
	tr.Close()
	tr.Wait()
	if !errors.Is(tr.Err(), models.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", tr.Err())
	}
	if err := tr.Ping(); !errors.Is(err, models.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestSendQueueFull(t *testing.T) {
	received := make(chan string, 10)
	server := echoServer(t, received)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// one token, then nothing for an hour: the writer parks on the limiter
	conn := newConn(ws, nil, connOptions{
		source:     models.Public,
		sendBuffer: 1,
		limiter:    rate.NewLimiter(rate.Every(time.Hour), 1),
	})
	t.Cleanup(func() {
		conn.Close()
		conn.Wait()
	})

	var full error
	for i := 0; i < 5 && full == nil; i++ {
		full = conn.Send([]byte("frame"))
	}
	if !errors.Is(full, models.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", full)
	}
	expectFrame(t, received, "frame")

	// pings bypass the op limiter
	if err := conn.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	expectFrame(t, received, "ping")
}

func TestDialErrors(t *testing.T) {
	notWS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(notWS.Close)

	tests := []struct {
		name string
		cfg  DialerConfig
		url  string
		kind models.ConnectErrorKind
	}{
		{"handshake", DialerConfig{}, wsURL(notWS), models.ConnectHandshake},
		{"dns", DialerConfig{}, "ws://okxfeed.invalid:8443/ws", models.ConnectDNS},
		{"bad local ip", DialerConfig{LocalIP: "not-an-ip"}, wsURL(notWS), models.ConnectTCP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.HandshakeTimeout = 2 * time.Second
			d := NewDialer(tt.cfg, nil, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := d.Dial(ctx, tt.url, nil)
			var cerr *models.ConnectError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConnectError, got %v", err)
			}
			if cerr.Kind != tt.kind {
				t.Fatalf("expected kind %s, got %s (%v)", tt.kind, cerr.Kind, err)
			}
		})
	}
}

func TestConnectLimiterHonorsContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow()
	d := NewDialer(DialerConfig{}, limiter, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Dial(ctx, "ws://127.0.0.1:1/ws", nil)
	var cerr *models.ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
}

func TestUserAgentHeader(t *testing.T) {
	agents := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(server.Close)

	d := NewDialer(DialerConfig{UserAgent: "okxfeed/test"}, nil, nil)
	tr, err := d.Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() {
		tr.Close()
		tr.Wait()
	}()
	if got := <-agents; got != "okxfeed/test" {
		t.Fatalf("expected user agent okxfeed/test, got %q", got)
	}
}
