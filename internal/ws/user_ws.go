package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"roomchat/internal/middleware"
	"roomchat/internal/observability"
)

// UserWebSocketHandler serves the sockets that receive a user's direct messages.
type UserWebSocketHandler struct {
	hub *Hub
}

// NewUserWebSocketHandler constructs a UserWebSocketHandler.
func NewUserWebSocketHandler(hub *Hub) *UserWebSocketHandler {
	return &UserWebSocketHandler{hub: hub}
}

// Handle upgrades and registers a websocket connection for direct messages.
func (h *UserWebSocketHandler) Handle(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id", "code": "INVALID_USER"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		ResourceID:  userID,
		UserID:      userID,
		IP:          c.ClientIP(),
		RequestID:   middleware.RequestIDFrom(c),
		TraceID:     observability.TraceIDFromContext(c.Request.Context()),
		ConnectedAt: time.Now(),
	}
	ctx := context.WithoutCancel(c.Request.Context())
	h.hub.AddUserClient(userID, conn, info)
	observability.IncWSActive(kindUser)
	h.hub.publishWS(ctx, kindUser, "ws_connect", info, "")

	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveUserClient(userID, conn)
			observability.DecWSActive(kindUser)
			h.hub.publishWS(ctx, kindUser, "ws_disconnect", info, closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.publishWS(ctx, kindUser, "ws_error", info, closeReason)
				}
				return
			}
		}
	}()
}
