package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"neighbourhood-chat/internal/middleware"
	"neighbourhood-chat/internal/rabbitmq"
	"neighbourhood-chat/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints behind auth.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, publisher rabbitmq.Publisher, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(c, emitter, "INFO", "audit_test", "", "", "audit test")
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"request_id": middleware.RequestID(c),
			"publisher":  rabbitmq.PublisherMode(publisher),
			"reason":     rabbitmq.PublisherNoopReason(publisher),
		})
	})
}
