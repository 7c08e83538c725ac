package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"judgehub/internal/judge/auth"
	"judgehub/internal/judge/broker"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/service"
	"judgehub/internal/judge/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type idleDispatcher struct{}

func (idleDispatcher) Fetch(ctx context.Context, f model.Filter) (*model.Task, *model.Record, error) {
	return nil, nil, nil
}

func (idleDispatcher) MarkFetched(ctx context.Context, t model.Task, rec *model.Record) error {
	return nil
}

func (idleDispatcher) Release(ctx context.Context, t model.Task) error { return nil }

type noResults struct{}

func (noResults) Next(ctx context.Context, rec *model.Record, body model.JudgeResult) (*model.Record, error) {
	return rec, nil
}

func (noResults) End(ctx context.Context, rec *model.Record, body model.JudgeResult, opts service.EndOptions) (*model.Record, error) {
	return rec, nil
}

type registry struct {
	mu       sync.Mutex
	sessions map[string]broker.SessionInfo
}

func (r *registry) Register(info broker.SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[info.ID] = info
}

func (r *registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *registry) list() []broker.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broker.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func newConnServer(t *testing.T) (*httptest.Server, *registry, *ConnController, context.CancelFunc) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := &registry{sessions: make(map[string]broker.SessionInfo)}
	base, cancel := context.WithCancel(context.Background())
	factory := func(id string, judger int64, tr session.Transport) *session.Session {
		return session.New(id, judger, session.Deps{
			Transport:  tr,
			Dispatcher: idleDispatcher{},
			Results:    noResults{},
			Languages: func() map[string]model.Language {
				return map[string]model.Language{"cc": {Display: "C++"}}
			},
		}, session.Options{PollInterval: time.Hour})
	}
	ctl := NewConnController(base, reg, factory, session.WSConfig{})
	a := auth.NewAuthenticator(auth.Config{Secret: testSecret}, nil)

	router := gin.New()
	router.GET("/judge/conn", auth.Require(a, auth.PrivJudge), ctl.Connect)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		ctl.Wait()
		srv.Close()
	})
	return srv, reg, ctl, cancel
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/judge/conn?token=" + token
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectRejectsUnprivilegedDaemon(t *testing.T) {
	t.Parallel()
	srv, reg, _, _ := newConnServer(t)

	token, err := auth.Issue(testSecret, "", 3, auth.PrivUser, time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	if err == nil {
		t.Fatalf("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
	if n := len(reg.list()); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
}

func TestConnectRunsSession(t *testing.T) {
	t.Parallel()
	srv, reg, _, _ := newConnServer(t)

	token, err := auth.Issue(testSecret, "", 4, auth.PrivJudge, time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame map[string]map[string]model.Language
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame failed: %v", err)
	}
	if frame["language"]["cc"].Display != "C++" {
		t.Fatalf("expected language table, got %s", data)
	}

	waitUntil(t, "registration", func() bool { return len(reg.list()) == 1 })
	if info := reg.list()[0]; info.Judger != 4 {
		t.Fatalf("expected judger 4, got %+v", info)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitUntil(t, "unregistration", func() bool { return len(reg.list()) == 0 })
}

func TestShutdownStopsSessions(t *testing.T) {
	t.Parallel()
	srv, reg, ctl, cancel := newConnServer(t)

	token, err := auth.Issue(testSecret, "", 4, auth.PrivJudge, time.Hour)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	waitUntil(t, "registration", func() bool { return len(reg.list()) == 1 })

	cancel()
	done := make(chan struct{})
	go func() {
		ctl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("sessions did not stop after shutdown")
	}
	if n := len(reg.list()); n != 0 {
		t.Fatalf("expected no sessions after shutdown, got %d", n)
	}
}
