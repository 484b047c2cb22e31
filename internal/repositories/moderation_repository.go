package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"neighbourhood-chat/internal/models"
)

var (
	ErrContentNotFound   = errors.New("content not found")
	ErrContentNotFlagged = errors.New("content not flagged")
	ErrUnknownContent    = errors.New("unknown content type")
)

// flaggable maps a moderated content type onto its storage columns.
type flaggable struct {
	table   string
	status  string
	flag    string
	reports string
	author  string
	title   string
	body    string
	chatID  string
}

var flaggables = map[string]flaggable{
	models.ContentTypeMessage: {
		table: "messages", status: "moderation_status", flag: "is_reported", reports: "reported_by",
		author: "sender_id", title: "sender_name", body: "content", chatID: "chat_id::text",
	},
	models.ContentTypeNotice: {
		table: "notices", status: "status", flag: "is_flagged", reports: "reports",
		author: "author_id", title: "title", body: "content", chatID: "NULL::text",
	},
	models.ContentTypeReport: {
		table: "community_reports", status: "report_status", flag: "is_flagged", reports: "reports",
		author: "author_id", title: "title", body: "description", chatID: "NULL::text",
	},
}

// ModerationRepository abstracts the moderation queue across content stores.
type ModerationRepository interface {
	ListFlagged(ctx context.Context, contentType string) ([]models.FlaggedContent, error)
	GetContent(ctx context.Context, contentType, contentID string) (models.FlaggedContent, error)
	ApplyChange(ctx context.Context, change models.ModerationChange, requireFlagged bool) (models.FlaggedContent, error)
}

// ModerationRepo is a sqlx implementation of ModerationRepository.
type ModerationRepo struct {
	db *sqlx.DB
}

// NewModerationRepo constructs a ModerationRepo.
func NewModerationRepo(db *sqlx.DB) *ModerationRepo {
	return &ModerationRepo{db: db}
}

func (f flaggable) selectColumns(contentType string) string {
	return fmt.Sprintf(`id::text AS id, '%s' AS content_type, %s::text AS author_id, %s AS title, %s AS body, %s AS chat_id,
        %s AS status, %s AS reports, created_at, updated_at`,
		contentType, f.author, f.title, f.body, f.chatID, f.status, f.reports)
}

// flagged matches rows whose marker is set and that carry at least one report.
func (f flaggable) flagged() string {
	return fmt.Sprintf(`%s AND jsonb_array_length(%s) > 0`, f.flag, f.reports)
}

// ListFlagged returns the flagged items of one content type that carry at least one report.
func (r *ModerationRepo) ListFlagged(ctx context.Context, contentType string) ([]models.FlaggedContent, error) {
	f, ok := flaggables[contentType]
	if !ok {
		return nil, ErrUnknownContent
	}
	var items []models.FlaggedContent
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, f.selectColumns(contentType), f.table, f.flagged())
	err := r.db.SelectContext(ctx, &items, query)
	return items, err
}

// GetContent loads a single moderated item.
func (r *ModerationRepo) GetContent(ctx context.Context, contentType, contentID string) (models.FlaggedContent, error) {
	f, ok := flaggables[contentType]
	if !ok {
		return models.FlaggedContent{}, ErrUnknownContent
	}
	var items []models.FlaggedContent
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, f.selectColumns(contentType), f.table)
	if err := r.db.SelectContext(ctx, &items, query, contentID); err != nil {
		return models.FlaggedContent{}, err
	}
	if len(items) == 0 {
		return models.FlaggedContent{}, ErrContentNotFound
	}
	return items[0], nil
}

// ApplyChange writes a moderation transition. With requireFlagged the change
// only applies to an item that is currently flagged and reported.
func (r *ModerationRepo) ApplyChange(ctx context.Context, change models.ModerationChange, requireFlagged bool) (models.FlaggedContent, error) {
	f, ok := flaggables[change.ContentType]
	if !ok {
		return models.FlaggedContent{}, ErrUnknownContent
	}

	set := fmt.Sprintf(`%s=$2, moderation_reason=$3, moderated_by=$4, moderated_at=$5, updated_at=$5`, f.status)
	if change.ClearReports {
		set += fmt.Sprintf(`, %s=FALSE, %s='[]'::jsonb`, f.flag, f.reports)
	}
	where := `id=$1`
	if requireFlagged {
		where += " AND " + f.flagged()
	}

	var items []models.FlaggedContent
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s RETURNING %s`, f.table, set, where, f.selectColumns(change.ContentType))
	if err := r.db.SelectContext(ctx, &items, query,
		change.ContentID, change.Status, change.Reason, change.ModeratorID, change.At); err != nil {
		return models.FlaggedContent{}, err
	}
	if len(items) > 0 {
		return items[0], nil
	}

	if _, err := r.GetContent(ctx, change.ContentType, change.ContentID); err != nil {
		return models.FlaggedContent{}, err
	}
	return models.FlaggedContent{}, ErrContentNotFlagged
}
