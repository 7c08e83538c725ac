package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	appErr "judgehub/pkg/errors"

	"github.com/gorilla/websocket"
)

// WSConfig tunes the websocket transport.
type WSConfig struct {
	WriteTimeout time.Duration `json:",default=10s"`
	PingInterval time.Duration `json:",default=30s"`
	// PongWait bounds the silence tolerated from the daemon. Zero means three
	// ping intervals.
	PongWait       time.Duration `json:",optional"`
	MaxMessageSize int64         `json:",default=16777216"`
}

// WSTransport adapts a gorilla websocket connection to Transport.
type WSTransport struct {
	conn *websocket.Conn
	cfg  WSConfig

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSTransport wraps conn and starts its keepalive pings. A daemon that
// sends nothing, pongs included, for PongWait is treated as gone.
func NewWSTransport(conn *websocket.Conn, cfg WSConfig) *WSTransport {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 3 * cfg.PingInterval
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	t := &WSTransport{conn: conn, cfg: cfg, done: make(chan struct{})}
	if cfg.PingInterval > 0 {
		t.extendDeadline()
		conn.SetPongHandler(func(string) error {
			t.extendDeadline()
			return nil
		})
		go t.keepalive()
	}
	return t
}

func (t *WSTransport) extendDeadline() {
	if t.cfg.PongWait > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	}
}

func (t *WSTransport) Send(ctx context.Context, v interface{}) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteJSON(v); err != nil {
		// gorilla leaves the connection broken after a failed write.
		go t.Close()
		return t.mapErr(err)
	}
	return nil
}

// Receive blocks until a data frame arrives. Control frames are handled by
// gorilla and never surface here.
func (t *WSTransport) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, t.mapErr(err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			if t.cfg.PingInterval > 0 {
				t.extendDeadline()
			}
			return data, nil
		}
	}
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *WSTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *WSTransport) keepalive() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				_ = t.Close()
				return
			}
		}
	}
}

func (t *WSTransport) mapErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return appErr.Wrap(err, appErr.JudgeSessionClosed)
	}
	return err
}
