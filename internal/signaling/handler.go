// Package signaling is the websocket transport for call signaling. It turns
// client messages into coordinator operations and socket loss into presence
// loss.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"teleconsult/internal/auth"
	"teleconsult/internal/calls"
	"teleconsult/internal/config"
	"teleconsult/internal/coordinator"
	"teleconsult/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Coordinator is the part of the call coordinator the transport drives.
type Coordinator interface {
	Join(ctx context.Context, req coordinator.JoinRequest) (coordinator.JoinResult, error)
	Relay(ctx context.Context, req coordinator.RelayRequest) (bool, error)
	TryTerminate(ctx context.Context, callID string, trig coordinator.Trigger) (coordinator.Result, error)
	Disconnect(ctx context.Context, conn coordinator.Conn)
}

const writeWait = 5 * time.Second

type Handler struct {
	coord    Coordinator
	resolver auth.Resolver
	cfg      config.SignalConfig
	log      *slog.Logger

	upgrader websocket.Upgrader
}

func NewHandler(coord Coordinator, resolver auth.Resolver, cfg config.SignalConfig, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	return &Handler{
		coord:    coord,
		resolver: resolver,
		cfg:      cfg,
		log:      log.With("subsystem", "signaling"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// client is the per-connection state: the socket and the verified caller.
type client struct {
	conn   *Conn
	caller auth.Caller
	role   calls.Role
	log    *slog.Logger
}

// ServeWS authenticates the caller from ?token= (or the Authorization header)
// and upgrades the connection.
func (h *Handler) ServeWS(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	caller, err := h.resolver.ResolveCaller(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if !rbac.IsCallParty(caller.Role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}

	conn := newConn(ws, h.cfg.SendBuffer)
	cl := &client{
		conn:   conn,
		caller: caller,
		role:   calls.Role(caller.Role),
		log:    h.log.With("conn_id", conn.ID(), "user_id", caller.ID, "role", caller.Role),
	}
	cl.log.Info("signaling connection opened")

	// The request context ends with the handler; the socket outlives it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	go h.writePump(ctx, cl)
	go func() {
		defer cancel()
		h.readPump(ctx, cl)
	}()
}

func (h *Handler) readPump(ctx context.Context, cl *client) {
	defer func() {
		cl.log.Info("signaling connection closing")
		h.coord.Disconnect(ctx, cl.conn)
		cl.conn.Close()
	}()

	pongWait := 2 * h.cfg.PingPeriod
	if h.cfg.ReadLimit > 0 {
		cl.conn.ws.SetReadLimit(h.cfg.ReadLimit)
	}
	_ = cl.conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.ws.SetPongHandler(func(string) error {
		return cl.conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.log.Warn("signaling read failed", "err", err)
			}
			return
		}
		_ = cl.conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		h.dispatch(ctx, cl, data)
	}
}

// writePump owns socket writes. Closing the socket on exit unblocks readPump,
// so a dead writer becomes presence loss right away.
func (h *Handler) writePump(ctx context.Context, cl *client) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-cl.conn.send:
			if !ok {
				_ = cl.conn.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := cl.conn.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := cl.conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				cl.log.Debug("signaling write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := cl.conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// replyError maps coordinator errors onto the wire.
func (h *Handler) replyError(cl *client, callID string, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, coordinator.ErrNotRegistered):
		msg = "not joined"
	case errors.Is(err, coordinator.ErrCallEnded):
		msg = "call ended"
	case errors.Is(err, coordinator.ErrParticipantMismatch):
		msg = "not a participant"
	case errors.Is(err, calls.ErrNotFound):
		msg = "call not found"
	case errors.Is(err, coordinator.ErrInvalidRequest),
		errors.Is(err, coordinator.ErrInvalidRole),
		errors.Is(err, coordinator.ErrInvalidKind),
		errors.Is(err, errBadMessage):
		msg = "invalid request"
	default:
		cl.log.Error("signaling operation failed", "call_id", callID, "err", err)
	}
	_ = cl.conn.Send(errorReply{Type: "error", CallID: callID, Error: msg})
}
