package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/observability"
)

const requestIDKey = "request_id"

// RequestLogger assigns a request id, attaches a request-scoped logger and
// logs every request once it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		ctx := observability.WithRequestID(c.Request.Context(), requestID)
		l := logger.Get().With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(l.WithContext(ctx))

		c.Next()

		status := c.Writer.Status()
		log := logger.FromContext(c.Request.Context())
		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("request")
	}
}

// RequestID returns the id assigned by RequestLogger.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Timeout bounds the request context. A handler that has not written a
// response when the deadline passes gets a 503.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			Abort(c, apperrors.New(apperrors.CodeRequestTimeout, apperrors.CategoryConnection, apperrors.SeverityMedium,
				"The request took too long, please try again").WithStatus(503))
		}
	}
}
