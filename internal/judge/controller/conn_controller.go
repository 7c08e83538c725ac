package controller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"judgehub/internal/judge/auth"
	"judgehub/internal/judge/broker"
	"judgehub/internal/judge/session"
	"judgehub/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionRegistry tracks connected sessions.
type SessionRegistry interface {
	Register(info broker.SessionInfo)
	Unregister(id string)
}

// SessionFactory builds the session serving one daemon connection.
type SessionFactory func(id string, judger int64, tr session.Transport) *session.Session

// ConnController upgrades daemon connections and runs their sessions until
// the connection closes or the controller is shut down.
type ConnController struct {
	base     context.Context
	registry SessionRegistry
	factory  SessionFactory
	ws       session.WSConfig
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

// NewConnController serves sessions until base is cancelled.
func NewConnController(base context.Context, registry SessionRegistry, factory SessionFactory, ws session.WSConfig) *ConnController {
	return &ConnController{
		base:     base,
		registry: registry,
		factory:  factory,
		ws:       ws,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Any origin; the token gates access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect handles GET /judge/conn. Authorization runs as middleware before
// the upgrade.
func (h *ConnController) Connect(c *gin.Context) {
	id, ok := auth.FromContext(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "judge connection upgrade failed", zap.Error(err))
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	tr := session.NewWSTransport(conn, h.ws)
	s := h.factory(uuid.NewString(), id.UserID, tr)
	h.registry.Register(broker.SessionInfo{
		ID:          s.ID(),
		Judger:      id.UserID,
		RemoteAddr:  tr.RemoteAddr(),
		ConnectedAt: time.Now(),
	})
	defer h.registry.Unregister(s.ID())

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	if err := s.Run(ctx); err != nil {
		logger.Warn(ctx, "judge session ended with error", zap.Error(err))
	}
}

// Wait blocks until every running session has cleaned up.
func (h *ConnController) Wait() {
	h.wg.Wait()
}
