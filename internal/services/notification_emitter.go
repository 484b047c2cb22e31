package services

import (
	"context"
	"errors"
	"time"

	"neighbourhood-chat/internal/dataaccess"
	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/repositories"
	"neighbourhood-chat/internal/ws"
)

const (
	EventNotificationUpdate = "notification_update"

	notificationRoutingKey = "notifications.message"
)

// NotificationPayload is the realtime notification_update body.
type NotificationPayload struct {
	Type       string    `json:"type"`
	ChatID     string    `json:"chatId"`
	ChatType   string    `json:"chatType"`
	ChatName   string    `json:"chatName"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	MessageID  string    `json:"messageId"`
	Timestamp  time.Time `json:"timestamp"`
}

// NotificationEvent is published to the broker for out-of-band delivery
// (push, email) by downstream consumers.
type NotificationEvent struct {
	EventType     string                `json:"eventType"`
	Notifications []models.Notification `json:"notifications"`
	Preview       string                `json:"preview"`
	OccurredAt    time.Time             `json:"occurredAt"`
}

// NotificationEmitter records and pushes per-member notifications for a send.
type NotificationEmitter struct {
	repo      repositories.NotificationRepository
	hub       ws.Broadcaster
	publisher EventPublisher
	exec      *dataaccess.Executor
	clock     *ids.Clock
}

// NewNotificationEmitter constructs a NotificationEmitter. publisher may be nil.
func NewNotificationEmitter(repo repositories.NotificationRepository, hub ws.Broadcaster, publisher EventPublisher, exec *dataaccess.Executor, clock *ids.Clock) *NotificationEmitter {
	if clock == nil {
		clock = ids.NewClock()
	}
	return &NotificationEmitter{repo: repo, hub: hub, publisher: publisher, exec: exec, clock: clock}
}

// NotifyGroupMessage notifies every member except the sender. Each channel
// is attempted independently; the joined error reports what failed.
func (e *NotificationEmitter) NotifyGroupMessage(ctx context.Context, group models.GroupWithMembers, msg models.Message) error {
	now := e.clock.Now()
	var records []models.Notification
	for _, m := range group.Members {
		if m.UserID == msg.SenderID {
			continue
		}
		records = append(records, models.Notification{
			ID:          ids.New(),
			RecipientID: m.UserID,
			SenderID:    msg.SenderID,
			Kind:        models.NotificationKindMessage,
			ChatID:      group.ID,
			ChatType:    models.ChatTypeGroup,
			ChatName:    group.Name,
			MessageID:   msg.ID,
			CreatedAt:   now,
		})
	}
	if len(records) == 0 {
		return nil
	}

	var errs []error
	err := e.exec.Do(ctx, "notifications.create", func(ctx context.Context) error {
		return e.repo.CreateNotifications(ctx, records)
	}, dataaccess.NoRetry())
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("message_id", msg.ID).Msg("notification records not stored")
		errs = append(errs, err)
	}

	payload := NotificationPayload{
		Type:       EventNewMessage,
		ChatID:     group.ID,
		ChatType:   models.ChatTypeGroup,
		ChatName:   group.Name,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		MessageID:  msg.ID,
		Timestamp:  msg.CreatedAt,
	}
	for _, r := range records {
		if err := e.hub.Publish(ctx, ws.UserRoom(r.RecipientID), EventNotificationUpdate, payload); err != nil {
			errs = append(errs, err)
		}
	}

	if e.publisher != nil {
		event := NotificationEvent{
			EventType:     "group_message",
			Notifications: records,
			Preview:       preview(msg.Content),
			OccurredAt:    now,
		}
		if err := e.publisher.Publish(ctx, notificationRoutingKey, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= 100 {
		return content
	}
	return string(runes[:100]) + "..."
}
