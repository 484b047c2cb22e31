package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/dataaccess"
	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/observability"
	"neighbourhood-chat/internal/principal"
	"neighbourhood-chat/internal/repositories"
	"neighbourhood-chat/internal/telemetry"
)

const (
	SortFlaggedAt   = "flaggedAt"
	SortReportCount = "reportCount"
	SortCreatedAt   = "createdAt"

	DefaultFlaggedLimit = 20
	maxFlaggedLimit     = 100
	maxReportReason     = 500
)

// FlaggedQuery filters and pages the moderation queue.
type FlaggedQuery struct {
	ContentType string
	SortBy      string
	SortOrder   string
	Page        int
	Limit       int
}

// FlaggedReport is one report in the moderation view.
type FlaggedReport struct {
	UserID     *string   `json:"userId"`
	Reason     string    `json:"reason"`
	ReportedAt time.Time `json:"reportedAt"`
}

// FlaggedItem is one queue entry.
type FlaggedItem struct {
	ID          string          `json:"id"`
	ContentType string          `json:"contentType"`
	AuthorID    string          `json:"authorId"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	ChatID      *string         `json:"chatId"`
	Status      string          `json:"status"`
	Reports     []FlaggedReport `json:"reports"`
	ReportCount int             `json:"reportCount"`
	FlaggedAt   time.Time       `json:"flaggedAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// FlaggedPage is a page of the moderation queue.
type FlaggedPage struct {
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
	Content    []FlaggedItem `json:"content"`
}

// ModerationResult is the post-state of a transition.
type ModerationResult struct {
	ContentID   string    `json:"contentId"`
	ContentType string    `json:"contentType"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	ModeratedBy string    `json:"moderatedBy"`
	ModeratedAt time.Time `json:"moderatedAt"`
	Reason      *string   `json:"reason,omitempty"`
}

// ReportInput is the body of a message report.
type ReportInput struct {
	Reason    string `json:"reason"`
	Anonymous bool   `json:"anonymous"`
}

// ModerationService drives the flagged-content queue and its transitions.
type ModerationService struct {
	moderation repositories.ModerationRepository
	messages   repositories.MessageRepository
	groups     repositories.GroupRepository
	audit      repositories.AuditRepository
	stream     *telemetry.AuditEmitter
	exec       *dataaccess.Executor
	clock      *ids.Clock
}

// NewModerationService constructs a ModerationService. stream may be nil.
func NewModerationService(moderation repositories.ModerationRepository, messages repositories.MessageRepository, groups repositories.GroupRepository, audit repositories.AuditRepository, stream *telemetry.AuditEmitter, exec *dataaccess.Executor, clock *ids.Clock) *ModerationService {
	if clock == nil {
		clock = ids.NewClock()
	}
	return &ModerationService{moderation: moderation, messages: messages, groups: groups, audit: audit, stream: stream, exec: exec, clock: clock}
}

var flaggableTypes = []string{models.ContentTypeNotice, models.ContentTypeReport, models.ContentTypeMessage}

// ListFlagged returns a sorted page of flagged content.
func (s *ModerationService) ListFlagged(ctx context.Context, q FlaggedQuery) (FlaggedPage, error) {
	ctx, span := tracer.Start(ctx, "moderation.list_flagged")
	defer span.End()

	q, err := normalizeFlaggedQuery(q)
	if err != nil {
		return FlaggedPage{}, fail(span, err)
	}

	types := flaggableTypes
	if q.ContentType != models.ContentTypeAll {
		types = []string{q.ContentType}
	}
	var items []FlaggedItem
	for _, t := range types {
		found, err := dataaccess.Get(ctx, s.exec, "moderation.list_flagged", func(ctx context.Context) ([]models.FlaggedContent, error) {
			return s.moderation.ListFlagged(ctx, t)
		})
		if err != nil {
			return FlaggedPage{}, fail(span, err)
		}
		for _, f := range found {
			items = append(items, toFlaggedItem(f))
		}
	}

	sortFlagged(items, q.SortBy, q.SortOrder == "asc")

	total := len(items)
	start := min((q.Page-1)*q.Limit, total)
	end := min(start+q.Limit, total)
	page := FlaggedPage{
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: (total + q.Limit - 1) / q.Limit,
		Content:    append([]FlaggedItem{}, items[start:end]...),
	}
	return page, nil
}

func normalizeFlaggedQuery(q FlaggedQuery) (FlaggedQuery, error) {
	if q.ContentType == "" {
		q.ContentType = models.ContentTypeAll
	}
	if q.SortBy == "" {
		q.SortBy = SortFlaggedAt
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultFlaggedLimit
	}

	if q.ContentType != models.ContentTypeAll && !isFlaggable(q.ContentType) {
		return q, apperrors.Validation(apperrors.CodeInvalidContentType, "Invalid content type")
	}
	switch q.SortBy {
	case SortFlaggedAt, SortReportCount, SortCreatedAt:
	default:
		return q, apperrors.Validation(apperrors.CodeValidation, "sortBy must be flaggedAt, reportCount or createdAt")
	}
	if q.SortOrder != "asc" && q.SortOrder != "desc" {
		return q, apperrors.Validation(apperrors.CodeValidation, "sortOrder must be asc or desc")
	}
	if q.Page < 1 {
		return q, apperrors.Validation(apperrors.CodeValidation, "page must be at least 1")
	}
	if q.Limit < 1 || q.Limit > maxFlaggedLimit {
		return q, apperrors.Validation(apperrors.CodeValidation, "limit must be between 1 and 100")
	}
	return q, nil
}

func sortFlagged(items []FlaggedItem, by string, asc bool) {
	key := func(a, b FlaggedItem) int {
		switch by {
		case SortReportCount:
			return a.ReportCount - b.ReportCount
		case SortCreatedAt:
			return a.CreatedAt.Compare(b.CreatedAt)
		default:
			return a.FlaggedAt.Compare(b.FlaggedAt)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		c := key(items[i], items[j])
		if c == 0 {
			// deterministic pages under ties
			return items[i].ID < items[j].ID
		}
		if asc {
			return c < 0
		}
		return c > 0
	})
}

func toFlaggedItem(f models.FlaggedContent) FlaggedItem {
	reports := make([]FlaggedReport, 0, len(f.Reports))
	for _, r := range f.Reports {
		reports = append(reports, FlaggedReport{UserID: r.UserID, Reason: r.Reason, ReportedAt: r.ReportedAt})
	}
	return FlaggedItem{
		ID:          f.ContentID,
		ContentType: f.ContentType,
		AuthorID:    f.AuthorID,
		Title:       f.Title,
		Content:     f.Body,
		ChatID:      f.ChatID,
		Status:      f.Status,
		Reports:     reports,
		ReportCount: len(f.Reports),
		FlaggedAt:   f.FlaggedAt(),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// Moderate applies approve, archive or remove to one item and records it.
func (s *ModerationService) Moderate(ctx context.Context, p principal.Principal, contentType, contentID, action string, reason *string) (ModerationResult, error) {
	ctx, span := tracer.Start(ctx, "moderation.moderate")
	defer span.End()
	span.SetAttributes(
		attribute.String("content.type", contentType),
		attribute.String("content.id", contentID),
		attribute.String("moderation.action", action),
	)

	if !p.IsAdmin() {
		return ModerationResult{}, fail(span, apperrors.Forbidden(apperrors.CodeAdminRequired, "Administrator access required"))
	}
	if !isFlaggable(contentType) {
		return ModerationResult{}, fail(span, apperrors.Validation(apperrors.CodeInvalidContentType, "Invalid content type"))
	}
	if !ids.Valid(contentID) {
		return ModerationResult{}, fail(span, apperrors.Input(apperrors.CodeInvalidContentID, "Invalid content id"))
	}

	var status string
	switch action {
	case models.ActionApprove:
		status = models.ModerationActive
	case models.ActionArchive:
		status = models.ModerationArchived
	case models.ActionRemove:
		status = models.ModerationRemoved
	default:
		return ModerationResult{}, fail(span, apperrors.Validation(apperrors.CodeValidation, "Unknown moderation action"))
	}
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		reason = &trimmed
		if trimmed == "" {
			reason = nil
		}
	}
	if action != models.ActionApprove && reason == nil {
		return ModerationResult{}, fail(span, apperrors.Validation(apperrors.CodeReasonRequired, "A reason is required to "+action+" content"))
	}

	before, err := dataaccess.Get(ctx, s.exec, "moderation.get_content", func(ctx context.Context) (models.FlaggedContent, error) {
		return s.moderation.GetContent(ctx, contentType, contentID)
	})
	if errors.Is(err, repositories.ErrContentNotFound) {
		return ModerationResult{}, fail(span, contentNotFound())
	}
	if err != nil {
		return ModerationResult{}, fail(span, err)
	}

	now := s.clock.Now()
	after, err := dataaccess.Get(ctx, s.exec, "moderation.apply", func(ctx context.Context) (models.FlaggedContent, error) {
		return s.moderation.ApplyChange(ctx, models.ModerationChange{
			ContentType:  contentType,
			ContentID:    contentID,
			Action:       action,
			Status:       status,
			Reason:       reason,
			ModeratorID:  p.UserID,
			At:           now,
			ClearReports: action == models.ActionApprove,
		}, action == models.ActionApprove)
	})
	switch {
	case errors.Is(err, repositories.ErrContentNotFound):
		return ModerationResult{}, fail(span, contentNotFound())
	case errors.Is(err, repositories.ErrContentNotFlagged):
		return ModerationResult{}, fail(span, apperrors.Business(apperrors.CodeNotFlagged, "Content is not flagged"))
	case err != nil:
		return ModerationResult{}, fail(span, err)
	}

	observability.IncModerationAction(action, contentType)
	s.record(ctx, p, before, after, action, reason, now)

	return ModerationResult{
		ContentID:   contentID,
		ContentType: contentType,
		Action:      action,
		Status:      after.Status,
		ModeratedBy: p.UserID,
		ModeratedAt: now,
		Reason:      reason,
	}, nil
}

// AuditHistory lists the moderation audit entries of one item, oldest first.
func (s *ModerationService) AuditHistory(ctx context.Context, p principal.Principal, contentType, contentID string) ([]models.AuditEntry, error) {
	ctx, span := tracer.Start(ctx, "moderation.audit_history")
	defer span.End()

	if !p.IsAdmin() {
		return nil, fail(span, apperrors.Forbidden(apperrors.CodeAdminRequired, "Administrator access required"))
	}
	if !isFlaggable(contentType) {
		return nil, fail(span, apperrors.Validation(apperrors.CodeInvalidContentType, "Invalid content type"))
	}
	if !ids.Valid(contentID) {
		return nil, fail(span, apperrors.Input(apperrors.CodeInvalidContentID, "Invalid content id"))
	}

	entries, err := dataaccess.Get(ctx, s.exec, "audit.list", func(ctx context.Context) ([]models.AuditEntry, error) {
		return s.audit.ListAudit(ctx, contentType, contentID)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return entries, nil
}

// record writes the audit entry and streams it. Failures are logged only.
func (s *ModerationService) record(ctx context.Context, p principal.Principal, before, after models.FlaggedContent, action string, reason *string, at time.Time) {
	entry := models.AuditEntry{
		ID:         ids.New(),
		AdminID:    p.UserID,
		Action:     "content_" + action,
		TargetType: before.ContentType,
		TargetID:   before.ContentID,
		Details: models.JSONMap{
			"previousStatus": before.Status,
			"newStatus":      after.Status,
			"reportCount":    len(before.Reports),
		},
		CreatedAt: at,
	}
	if reason != nil {
		entry.Reason = *reason
	}
	err := s.exec.Do(ctx, "audit.append", func(ctx context.Context) error {
		return s.audit.AppendAudit(ctx, entry)
	}, dataaccess.NoRetry())
	if err != nil {
		apperrors.Report(ctx, "audit.append", apperrors.Classify(err), map[string]any{
			"content_type": before.ContentType,
			"content_id":   before.ContentID,
			"action":       action,
		})
	}

	s.stream.Emit(ctx, telemetry.AuditRecord{
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Text:       fmt.Sprintf("%s %s %s: %s -> %s", p.UserID, action, before.ContentType, before.Status, after.Status),
		UserID:     p.UserID,
	})
}

// ReportMessage flags a group message for moderation on behalf of a member.
func (s *ModerationService) ReportMessage(ctx context.Context, p principal.Principal, messageID string, in ReportInput) error {
	ctx, span := tracer.Start(ctx, "moderation.report_message")
	defer span.End()

	if !ids.Valid(messageID) {
		return fail(span, apperrors.Input(apperrors.CodeInvalidMessageID, "Invalid message id"))
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" || len([]rune(reason)) > maxReportReason {
		return fail(span, apperrors.Validation(apperrors.CodeValidation, "reason must be between 1 and 500 characters"))
	}

	msg, err := dataaccess.Get(ctx, s.exec, "messages.get", func(ctx context.Context) (models.Message, error) {
		return s.messages.GetMessage(ctx, messageID)
	})
	if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && msg.ModerationStatus != models.ModerationActive) {
		return fail(span, apperrors.NotFound(apperrors.CodeMessageNotFound, "Message not found"))
	}
	if err != nil {
		return fail(span, err)
	}
	if msg.ChatType != models.ChatTypeGroup {
		return fail(span, apperrors.Forbidden(apperrors.CodeMessageAccessDenied, "You cannot report this message"))
	}
	if err := requireMember(ctx, s.exec, s.groups, msg.ChatID, p.UserID); err != nil {
		return fail(span, err)
	}

	report := models.ContentReport{Reason: reason, ReportedAt: s.clock.Now()}
	if !in.Anonymous {
		report.UserID = &p.UserID
	}
	err = s.exec.Do(ctx, "messages.add_report", func(ctx context.Context) error {
		return s.messages.AddReport(ctx, messageID, report, report.ReportedAt)
	})
	switch {
	case errors.Is(err, repositories.ErrAlreadyReported):
		return fail(span, apperrors.Conflict(apperrors.CodeAlreadyReported, "You have already reported this message"))
	case errors.Is(err, repositories.ErrMessageNotFound):
		return fail(span, apperrors.NotFound(apperrors.CodeMessageNotFound, "Message not found"))
	case err != nil:
		return fail(span, err)
	}

	logger.FromContext(ctx).Info().Str("message_id", messageID).Bool("anonymous", in.Anonymous).Msg("message reported")
	return nil
}

func isFlaggable(contentType string) bool {
	return slices.Contains(flaggableTypes, contentType)
}

func contentNotFound() *apperrors.Error {
	return apperrors.NotFound(apperrors.CodeContentNotFound, "Content not found")
}
