package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/chat/session"
	"github.com/emberlink/chatd/config"
	mw "github.com/emberlink/chatd/middleware"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	sm       *session.Manager
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(c cache.Cache, sec config.SecurityConfig, sm *session.Manager, router *Router, logger *zap.Logger) *Handler {
	h := &Handler{
		cache:  c,
		sec:    sec,
		sm:     sm,
		router: router,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws. The access token is taken from the httpOnly
// cookie set at login, with Authorization header and ?token= fallbacks.
// A missing or invalid credential closes the connection immediately after
// a single auth_error event; there is no silent retry.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := mw.ExtractToken(c)
	if tokenStr == "" {
		tokenStr = c.Query("token")
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	authed := tokenStr != "" && err == nil
	if authed {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		exists, cacheErr := h.cache.Exists(ctx, "session:"+tokenStr)
		cancel()
		authed = cacheErr == nil && exists
	}

	// Upgrade first so the auth failure can be delivered as a WS event
	// instead of an opaque handshake error.
	conn, upErr := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if upErr != nil {
		h.logger.Error("ws upgrade failed", zap.Error(upErr))
		return
	}

	if !authed {
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"auth_error","payload":{"message":"missing or invalid credential"}}`))
		_ = conn.Close()
		h.logger.Warn("ws connection rejected: unauthenticated")
		return
	}

	sess := session.New(claims.UserID, claims.Username, conn, h.logger)
	h.sm.Register(sess)
	h.logger.Info("ws connection established",
		zap.Int64("user_id", claims.UserID),
		zap.String("username", claims.Username))

	// Blocks until the connection closes.
	h.readPump(sess)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *session.Session) {
	defer h.handleDisconnect(s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("user_id", s.UserID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// handleDisconnect removes the session from every broadcast group. Any
// database transaction the session initiated keeps running to completion
// on its own error path.
func (h *Handler) handleDisconnect(s *session.Session) {
	s.Close()
	h.sm.Unregister(s)
	h.logger.Info("ws disconnected", zap.Int64("user_id", s.UserID))
}
