package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchat/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, auditor Auditor, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if auditor == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		audit(c, auditor, telemetry.AuditRecord{
			Action:  "audit_test",
			ActorID: c.Query("userId"),
			Text:    "audit test",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
