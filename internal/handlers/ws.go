package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/internal/gateway"
	"github.com/planforge/backend/internal/middleware"
	"github.com/planforge/backend/internal/services"
	"github.com/planforge/backend/internal/utils"
	"github.com/planforge/backend/pkg/logger"
)

// Close codes for authentication failures. Distinct codes let clients tell
// a missing credential from a rejected one.
const (
	closeUnauthenticated   = 4001
	closeInvalidCredential = 4003
)

type WSHandler struct {
	hub      *gateway.Hub
	cfg      *config.Config
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *gateway.Hub, cfg *config.Config) *WSHandler {
	return &WSHandler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Connect upgrades to a websocket and parks the connection in the hub.
// Browsers cannot set headers on websocket requests, so the token may come
// from the query string as well as the Authorization header. The handshake
// always completes; an authentication failure is reported as a close frame
// so clients can read the code.
// GET /ws/notifications?token=...
func (h *WSHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = middleware.BearerToken(c)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[Gateway] Upgrade failed: %v", err)
		return
	}

	if token == "" {
		closeWith(conn, closeUnauthenticated, "authentication required")
		return
	}

	claims, err := utils.ParseToken(token)
	if err != nil {
		closeWith(conn, closeInvalidCredential, "invalid token")
		return
	}

	services.GetLastSeenTracker().Touch(claims.UserID)

	client := gateway.NewClient(h.hub, conn, claims.UserID, gateway.ClientOptions{
		SendBuffer: h.cfg.Gateway.SendBuffer,
		Keepalive:  time.Duration(h.cfg.Gateway.KeepaliveSeconds) * time.Second,
		WriteWait:  time.Duration(h.cfg.Gateway.WriteWaitSeconds) * time.Second,
	})
	client.Run()
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
