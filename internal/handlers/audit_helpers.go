package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"roomchat/internal/middleware"
	"roomchat/internal/models"
	"roomchat/internal/telemetry"
)

// Broadcaster fans events out to connected sockets. ws.Hub implements it.
type Broadcaster interface {
	BroadcastRoom(roomID string, event models.RoomEvent)
	SendToUsers(event models.DirectEvent, userIDs ...string)
}

// Auditor records moderation actions. telemetry.AuditEmitter implements it.
type Auditor interface {
	Emit(ctx context.Context, level string, record telemetry.AuditRecord)
}

func requestIDFromContext(c *gin.Context) string {
	if id := middleware.RequestIDFrom(c); id != "" {
		return id
	}
	return uuid.NewString()
}

func audit(c *gin.Context, auditor Auditor, record telemetry.AuditRecord) {
	if auditor == nil {
		return
	}
	record.RequestID = requestIDFromContext(c)
	auditor.Emit(c.Request.Context(), "INFO", record)
}
