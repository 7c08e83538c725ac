package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type received struct {
	data []byte
	err  error
}

// serveTransport upgrades one connection and reports every Receive result.
func serveTransport(t *testing.T, cfg WSConfig) (*websocket.Conn, <-chan received) {
	t.Helper()
	out := make(chan received, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tr := NewWSTransport(conn, cfg)
		go func() {
			defer tr.Close()
			for {
				data, err := tr.Receive(context.Background())
				out <- received{data: data, err: err}
				if err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, out
}

func TestWSTransportDropsSilentDaemon(t *testing.T) {
	t.Parallel()
	// The client never reads, so it never answers a ping.
	_, out := serveTransport(t, WSConfig{PingInterval: 20 * time.Millisecond, PongWait: 60 * time.Millisecond, WriteTimeout: 20 * time.Millisecond})

	select {
	case r := <-out:
		if r.err == nil {
			t.Fatalf("expected receive to fail, got frame %s", r.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a silent daemon to be dropped")
	}
}

func TestWSTransportKeepsAnsweringDaemon(t *testing.T) {
	t.Parallel()
	client, out := serveTransport(t, WSConfig{PingInterval: 20 * time.Millisecond, PongWait: 60 * time.Millisecond})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case r := <-out:
		t.Fatalf("expected the connection to stay open, got %s err=%v", r.data, r.err)
	case <-time.After(300 * time.Millisecond):
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"key":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	select {
	case r := <-out:
		if r.err != nil || string(r.data) != `{"key":"ping"}` {
			t.Fatalf("expected the ping frame, got %s err=%v", r.data, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a frame")
	}
}
