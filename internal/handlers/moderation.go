package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/services"
)

// ModerationHandler serves the admin moderation queue.
type ModerationHandler struct {
	moderation *services.ModerationService
}

// NewModerationHandler builds a ModerationHandler.
func NewModerationHandler(moderation *services.ModerationService) *ModerationHandler {
	return &ModerationHandler{moderation: moderation}
}

// ListFlagged handles GET /moderation/flagged.
func (h *ModerationHandler) ListFlagged(c *gin.Context) {
	q := services.FlaggedQuery{
		ContentType: c.Query("contentType"),
		SortBy:      c.Query("sortBy"),
		SortOrder:   c.Query("sortOrder"),
	}
	var err error
	if q.Page, err = intQuery(c, "page"); err != nil {
		respondError(c, err)
		return
	}
	if q.Limit, err = intQuery(c, "limit"); err != nil {
		respondError(c, err)
		return
	}

	page, err := h.moderation.ListFlagged(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Moderate returns the handler of POST /moderation/:contentType/:id/<action>.
func (h *ModerationHandler) Moderate(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentPrincipal(c)
		if !ok {
			return
		}
		var req struct {
			Reason *string `json:"reason"`
		}
		if !bindBody(c, &req) {
			return
		}

		out, err := h.moderation.Moderate(c.Request.Context(), p, c.Param("contentType"), c.Param("id"), action, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// AuditHistory handles GET /moderation/:contentType/:id/audit.
func (h *ModerationHandler) AuditHistory(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	entries, err := h.moderation.AuditHistory(c.Request.Context(), p, c.Param("contentType"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// intQuery parses an optional integer parameter; absent yields 0.
func intQuery(c *gin.Context, key string) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation(apperrors.CodeValidation, key+" must be an integer")
	}
	if n == 0 {
		// zero is reserved for "unset"
		return 0, apperrors.Validation(apperrors.CodeValidation, key+" must be at least 1")
	}
	return n, nil
}
