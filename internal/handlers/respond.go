package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/middleware"
	"neighbourhood-chat/internal/principal"
)

var exposeDebug atomic.Bool

// ExposeErrorDebug controls whether error bodies carry the debug section.
// Enable only outside production.
func ExposeErrorDebug(enabled bool) {
	exposeDebug.Store(enabled)
}

// respondError converts err into the standard error body.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.Classify(err)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		apperrors.Report(c.Request.Context(), c.FullPath(), appErr, map[string]any{"method": c.Request.Method})
	}
	c.AbortWithStatusJSON(status, apperrors.ToBody(appErr, time.Now(), exposeDebug.Load()))
}

// currentPrincipal returns the authenticated caller or writes a 401.
func currentPrincipal(c *gin.Context) (principal.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		respondError(c, apperrors.Unauthenticated(apperrors.CodeUnauthorized, "Authentication required"))
		return principal.Principal{}, false
	}
	return p, true
}

// bindBody binds an optional JSON body into dst. An empty body leaves dst
// untouched; anything that is not a matching JSON object is a VALIDATION_ERROR.
func bindBody(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return true
	}
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	details := map[string]string{"reason": "malformed JSON"}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		details = map[string]string{"field": typeErr.Field, "reason": "expected " + typeErr.Type.String()}
	}
	respondError(c, apperrors.Validation(apperrors.CodeValidation, "Invalid request body").WithDetails(details))
	return false
}
