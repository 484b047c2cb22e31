package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"neighbourhood-chat/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrAlreadyReported = errors.New("message already reported by user")
	ErrVersionConflict = errors.New("message changed concurrently")
)

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	InsertGroupMessage(ctx context.Context, msg models.Message) (models.Message, error)
	UpdateStatus(ctx context.Context, messageID, status string, at time.Time) error
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error)
	ExistsActiveInChat(ctx context.Context, messageID, chatID, chatType string) (bool, error)
	ExistsActive(ctx context.Context, messageID string) (bool, error)
	ListGroupMessages(ctx context.Context, q models.MessageQuery) ([]models.Message, error)
	CountActive(ctx context.Context, chatID string) (int, error)
	LatestActive(ctx context.Context, chatID string) (*models.Message, error)
	UpdateReactions(ctx context.Context, messageID string, reactions models.Reactions, expectedVersion int64, at time.Time) error
	AddReport(ctx context.Context, messageID string, report models.ContentReport, at time.Time) error
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, chat_type, sender_id, sender_name, content, message_type, attachments, reply_to_id,
    is_forwarded, forwarded_from, reactions, status, moderation_status, is_reported, reported_by, is_edited, is_deleted,
    is_starred, delivered_to, read_by, encryption, auto_delete, moderation_reason, moderated_by, moderated_at, version,
    created_at, updated_at`

// InsertGroupMessage stores a message. Inserts into one chat are serialized
// and the stored created_at is never earlier than any previous message of
// that chat, so commit order and timestamp order agree.
func (r *MessageRepo) InsertGroupMessage(ctx context.Context, msg models.Message) (stored models.Message, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, msg.ChatID); err != nil {
		return models.Message{}, err
	}

	var last sql.NullTime
	if err = tx.GetContext(ctx, &last, `SELECT MAX(created_at) FROM messages WHERE chat_id=$1 AND chat_type=$2`, msg.ChatID, msg.ChatType); err != nil {
		return models.Message{}, err
	}
	if last.Valid && last.Time.After(msg.CreatedAt) {
		msg.CreatedAt = last.Time
	}
	msg.UpdatedAt = msg.CreatedAt

	if msg.Attachments == nil {
		msg.Attachments = models.Attachments{}
	}
	if msg.Reactions == nil {
		msg.Reactions = models.Reactions{}
	}
	if msg.ReportedBy == nil {
		msg.ReportedBy = models.Reports{}
	}
	if msg.DeliveredTo == nil {
		msg.DeliveredTo = pq.StringArray{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = pq.StringArray{}
	}

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES (
        :id, :chat_id, :chat_type, :sender_id, :sender_name, :content, :message_type, :attachments, :reply_to_id,
        :is_forwarded, :forwarded_from, :reactions, :status, :moderation_status, :is_reported, :reported_by, :is_edited, :is_deleted,
        :is_starred, :delivered_to, :read_by, :encryption, :auto_delete, :moderation_reason, :moderated_by, :moderated_at, :version,
        :created_at, :updated_at)`, msg); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// UpdateStatus sets the delivery status of a message.
func (r *MessageRepo) UpdateStatus(ctx context.Context, messageID, status string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$2, updated_at=$3 WHERE id=$1`, messageID, status, at)
	if err != nil {
		return err
	}
	return requireRow(res, ErrMessageNotFound)
}

// GetMessage fetches a message by id regardless of moderation status.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessages fetches the given messages; missing ids are skipped.
func (r *MessageRepo) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, pq.Array(messageIDs))
	return msgs, err
}

// ExistsActiveInChat reports whether an active message with id lives in the chat.
func (r *MessageRepo) ExistsActiveInChat(ctx context.Context, messageID, chatID, chatType string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages
        WHERE id=$1 AND chat_id=$2 AND chat_type=$3 AND moderation_status=$4)`, messageID, chatID, chatType, models.ModerationActive)
	return exists, err
}

// ExistsActive reports whether an active message with id exists in any chat.
func (r *MessageRepo) ExistsActive(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND moderation_status=$2)`, messageID, models.ModerationActive)
	return exists, err
}

// ListGroupMessages returns active messages of a group, newest first.
func (r *MessageRepo) ListGroupMessages(ctx context.Context, q models.MessageQuery) ([]models.Message, error) {
	var msgs []models.Message
	var before any
	if q.Before != nil {
		before = *q.Before
	}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE chat_id=$1 AND chat_type=$2 AND moderation_status=$3 AND ($4::timestamptz IS NULL OR created_at < $4)
        ORDER BY created_at DESC, id DESC LIMIT $5 OFFSET $6`,
		q.ChatID, models.ChatTypeGroup, models.ModerationActive, before, q.Limit, q.Offset)
	return msgs, err
}

// CountActive counts the active messages of a group.
func (r *MessageRepo) CountActive(ctx context.Context, chatID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE chat_id=$1 AND chat_type=$2 AND moderation_status=$3`,
		chatID, models.ChatTypeGroup, models.ModerationActive)
	return count, err
}

// LatestActive returns the newest active message of a group, or nil.
func (r *MessageRepo) LatestActive(ctx context.Context, chatID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages
        WHERE chat_id=$1 AND chat_type=$2 AND moderation_status=$3 ORDER BY created_at DESC, id DESC LIMIT 1`,
		chatID, models.ChatTypeGroup, models.ModerationActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateReactions replaces the reaction list when the stored version still
// equals expectedVersion.
func (r *MessageRepo) UpdateReactions(ctx context.Context, messageID string, reactions models.Reactions, expectedVersion int64, at time.Time) error {
	if reactions == nil {
		reactions = models.Reactions{}
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET reactions=$2, version=version+1, updated_at=$4
        WHERE id=$1 AND version=$3`, messageID, reactions, expectedVersion, at)
	if err != nil {
		return err
	}
	return requireRow(res, ErrVersionConflict)
}

// AddReport appends a user report and flags the message.
func (r *MessageRepo) AddReport(ctx context.Context, messageID string, report models.ContentReport, at time.Time) error {
	entry := models.Reports{report}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET reported_by = reported_by || $2::jsonb, is_reported = TRUE, updated_at=$3
        WHERE id=$1 AND ($4::text IS NULL OR NOT reported_by @> jsonb_build_array(jsonb_build_object('userId', $4::text)))`,
		messageID, entry, at, report.UserID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1)`, messageID); err != nil {
		return err
	}
	if !exists {
		return ErrMessageNotFound
	}
	return ErrAlreadyReported
}

func requireRow(res sql.Result, notFound error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}
