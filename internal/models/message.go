package models

import (
	"time"

	"github.com/lib/pq"
)

const (
	ChatTypeGroup   = "group"
	ChatTypePrivate = "private"

	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"

	ModerationActive   = "active"
	ModerationArchived = "archived"
	ModerationRemoved  = "removed"

	MaxContentLength = 10000
)

// MessageTypes enumerates the accepted message kinds.
var MessageTypes = []string{"text", "image", "audio", "video", "document", "location", "contact"}

// ReactionTypes enumerates the accepted reaction kinds.
var ReactionTypes = []string{"thumbs_up", "heart", "smile", "laugh", "sad", "angry"}

// IsMessageType reports whether t is an accepted message kind.
func IsMessageType(t string) bool {
	return contains(MessageTypes, t)
}

// IsReactionType reports whether t is an accepted reaction kind.
func IsReactionType(t string) bool {
	return contains(ReactionTypes, t)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Message is a stored chat message.
type Message struct {
	ID               string         `db:"id"`
	ChatID           string         `db:"chat_id"`
	ChatType         string         `db:"chat_type"`
	SenderID         string         `db:"sender_id"`
	SenderName       string         `db:"sender_name"`
	Content          string         `db:"content"`
	MessageType      string         `db:"message_type"`
	Attachments      Attachments    `db:"attachments"`
	ReplyToID        *string        `db:"reply_to_id"`
	IsForwarded      bool           `db:"is_forwarded"`
	ForwardedFrom    *ForwardInfo   `db:"forwarded_from"`
	Reactions        Reactions      `db:"reactions"`
	Status           string         `db:"status"`
	ModerationStatus string         `db:"moderation_status"`
	IsReported       bool           `db:"is_reported"`
	ReportedBy       Reports        `db:"reported_by"`
	IsEdited         bool           `db:"is_edited"`
	IsDeleted        bool           `db:"is_deleted"`
	IsStarred        bool           `db:"is_starred"`
	DeliveredTo      pq.StringArray `db:"delivered_to"`
	ReadBy           pq.StringArray `db:"read_by"`
	Encryption       JSONMap        `db:"encryption"`
	AutoDelete       JSONMap        `db:"auto_delete"`
	ModerationReason *string        `db:"moderation_reason"`
	ModeratedBy      *string        `db:"moderated_by"`
	ModeratedAt      *time.Time     `db:"moderated_at"`
	Version          int64          `db:"version"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// Attachment describes one media item of a message.
type Attachment struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	URL       *string        `json:"url,omitempty"`
	Filename  *string        `json:"filename,omitempty"`
	Size      *int64         `json:"size,omitempty"`
	Thumbnail *string        `json:"thumbnail,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ForwardInfo records where a forwarded message came from.
type ForwardInfo struct {
	MessageID          string     `json:"messageId"`
	OriginalSenderID   string     `json:"originalSenderId"`
	OriginalSenderName string     `json:"originalSenderName,omitempty"`
	OriginalChatID     string     `json:"originalChatId,omitempty"`
	OriginalChatName   string     `json:"originalChatName,omitempty"`
	ForwardedBy        string     `json:"forwardedBy,omitempty"`
	ForwardedByName    string     `json:"forwardedByName,omitempty"`
	ForwardedAt        *time.Time `json:"forwardedAt,omitempty"`
}

// Reaction is one reaction kind on a message with the users who chose it.
type Reaction struct {
	Type      string    `json:"type"`
	Users     []string  `json:"users"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
}

// ContentReport is a single user report. UserID is nil for anonymous reports.
type ContentReport struct {
	UserID     *string   `json:"userId"`
	Reason     string    `json:"reason"`
	ReportedAt time.Time `json:"reportedAt"`
}

// MessageQuery filters a group's message history.
type MessageQuery struct {
	ChatID string
	Before *time.Time
	Limit  int
	Offset int
}
