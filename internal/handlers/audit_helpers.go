package handlers

import (
	"github.com/gin-gonic/gin"

	"neighbourhood-chat/internal/middleware"
	"neighbourhood-chat/internal/telemetry"
)

// emitAudit streams a request-scoped audit record. The caller is taken from
// the authenticated principal when present.
func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, level, action, targetType, targetID, text string) {
	if emitter == nil {
		return
	}
	rec := telemetry.AuditRecord{
		Level:      level,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Text:       text,
	}
	if p, ok := middleware.PrincipalFrom(c); ok {
		rec.UserID = p.UserID
	}
	emitter.Emit(c.Request.Context(), rec)
}
