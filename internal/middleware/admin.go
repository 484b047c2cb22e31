package middleware

import (
	"github.com/gin-gonic/gin"

	"neighbourhood-chat/internal/apperrors"
)

// RequireAdmin allows only principals with the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			Abort(c, apperrors.Unauthenticated(apperrors.CodeUnauthorized, "Authentication required"))
			return
		}
		if !p.IsAdmin() {
			Abort(c, apperrors.Forbidden(apperrors.CodeAdminRequired, "Administrator access required"))
			return
		}
		c.Next()
	}
}
