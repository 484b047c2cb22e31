package models

import "time"

const NotificationKindMessage = "message"

// Notification is a per-recipient record created for every group send.
type Notification struct {
	ID          string     `db:"id" json:"id"`
	RecipientID string     `db:"recipient_id" json:"recipientId"`
	SenderID    string     `db:"sender_id" json:"senderId"`
	Kind        string     `db:"kind" json:"kind"`
	ChatID      string     `db:"chat_id" json:"chatId"`
	ChatType    string     `db:"chat_type" json:"chatType"`
	ChatName    string     `db:"chat_name" json:"chatName"`
	MessageID   string     `db:"message_id" json:"messageId"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	DeliveredAt *time.Time `db:"delivered_at" json:"deliveredAt"`
	ReadAt      *time.Time `db:"read_at" json:"readAt"`
}
