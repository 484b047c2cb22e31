package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/services"
)

// ChatHandler serves group message and per-message endpoints.
type ChatHandler struct {
	chat       *services.ChatService
	reactions  *services.ReactionService
	moderation *services.ModerationService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chat *services.ChatService, reactions *services.ReactionService, moderation *services.ModerationService) *ChatHandler {
	return &ChatHandler{
		chat:       chat,
		reactions:  reactions,
		moderation: moderation,
	}
}

// GetGroupMessages handles GET /groups/:id/messages.
func (h *ChatHandler) GetGroupMessages(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	q, err := parseFetchQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	msgs, err := h.chat.FetchGroupMessages(c.Request.Context(), p, c.Param("id"), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PostGroupMessage handles POST /groups/:id/messages.
func (h *ChatHandler) PostGroupMessage(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var in services.SendMessageInput
	if !bindBody(c, &in) {
		return
	}

	msg, err := h.chat.SendGroupMessage(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ToggleReaction handles POST /messages/:id/react.
func (h *ChatHandler) ToggleReaction(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req struct {
		ReactionType string `json:"reactionType"`
	}
	if !bindBody(c, &req) {
		return
	}

	out, err := h.reactions.Toggle(c.Request.Context(), p, c.Param("id"), req.ReactionType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ClearReactions handles DELETE /messages/:id/reactions.
func (h *ChatHandler) ClearReactions(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	out, err := h.reactions.ClearReactions(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ReportMessage handles POST /messages/:id/report.
func (h *ChatHandler) ReportMessage(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var in services.ReportInput
	if !bindBody(c, &in) {
		return
	}

	messageID := c.Param("id")
	if err := h.moderation.ReportMessage(c.Request.Context(), p, messageID, in); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": messageID, "reported": true})
}

func parseFetchQuery(c *gin.Context) (services.FetchQuery, error) {
	q := services.FetchQuery{Limit: services.DefaultFetchLimit}

	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, apperrors.Validation(apperrors.CodeValidation, "limit must be an integer")
		}
		q.Limit = n
	}
	if raw, ok := c.GetQuery("offset"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, apperrors.Validation(apperrors.CodeValidation, "offset must be an integer")
		}
		q.Offset = n
	}
	if raw, ok := c.GetQuery("before"); ok && raw != "" {
		before, err := parseBefore(raw)
		if err != nil {
			return q, apperrors.Validation(apperrors.CodeValidation, "before must be an ISO-8601 timestamp")
		}
		q.Before = &before
	}
	return q, nil
}

// localTimestamp is an ISO-8601 timestamp without zone, read as UTC.
const localTimestamp = "2006-01-02T15:04:05"

func parseBefore(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localTimestamp, raw, time.UTC)
}
