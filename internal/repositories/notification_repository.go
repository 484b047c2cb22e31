package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"neighbourhood-chat/internal/models"
)

// NotificationRepository stores per-recipient notification records.
type NotificationRepository interface {
	CreateNotifications(ctx context.Context, notifications []models.Notification) error
}

// NotificationRepo is a sqlx implementation of NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs a NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// CreateNotifications inserts all records in one statement.
func (r *NotificationRepo) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO notifications
        (id, recipient_id, sender_id, kind, chat_id, chat_type, chat_name, message_id, created_at, delivered_at, read_at)
        VALUES (:id, :recipient_id, :sender_id, :kind, :chat_id, :chat_type, :chat_name, :message_id, :created_at, :delivered_at, :read_at)`,
		notifications)
	return err
}
