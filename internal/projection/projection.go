// Package projection maps stored messages to their wire representation.
// Send, fetch, reaction and real-time paths all go through Project.
package projection

import (
	"time"

	"neighbourhood-chat/internal/models"
)

const unknownSender = "Unknown"

// Source is a stored message together with its enriched references. Sender,
// Reply and ReplySender are optional.
type Source struct {
	Message     models.Message
	Sender      *models.User
	Reply       *models.Message
	ReplySender *models.User
}

// Attachment is the normalized attachment shape.
type Attachment struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	URL       *string        `json:"url"`
	Filename  *string        `json:"filename"`
	Size      *int64         `json:"size"`
	Thumbnail *string        `json:"thumbnail"`
	Metadata  map[string]any `json:"metadata"`
}

// ReplyTo summarizes the message being replied to.
type ReplyTo struct {
	ID         string  `json:"id"`
	Content    *string `json:"content"`
	SenderID   *string `json:"senderId"`
	SenderName string  `json:"senderName"`
	Type       *string `json:"type"`
}

// Reaction is one projected reaction entry.
type Reaction struct {
	Type      string     `json:"type"`
	Count     int        `json:"count"`
	Users     []string   `json:"users"`
	CreatedAt *time.Time `json:"createdAt"`
}

// Message is the canonical wire shape. Type mirrors MessageType, Media
// mirrors Attachments and Timestamp mirrors CreatedAt.
type Message struct {
	ID               string              `json:"id"`
	Content          string              `json:"content"`
	Type             string              `json:"type"`
	MessageType      string              `json:"messageType"`
	Media            []Attachment        `json:"media"`
	Attachments      []Attachment        `json:"attachments"`
	SenderID         string              `json:"senderId"`
	SenderName       string              `json:"senderName"`
	SenderAvatar     *string             `json:"senderAvatar"`
	ReplyTo          *ReplyTo            `json:"replyTo"`
	Reactions        []Reaction          `json:"reactions"`
	IsEdited         bool                `json:"isEdited"`
	IsForwarded      bool                `json:"isForwarded"`
	IsDeleted        bool                `json:"isDeleted"`
	IsStarred        bool                `json:"isStarred"`
	ForwardedFrom    *models.ForwardInfo `json:"forwardedFrom"`
	Status           string              `json:"status"`
	ModerationStatus string              `json:"moderationStatus"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
	Timestamp        time.Time           `json:"timestamp"`
	DeliveredTo      []string            `json:"deliveredTo"`
	ReadBy           []string            `json:"readBy"`
	Encryption       map[string]any      `json:"encryption"`
	AutoDelete       map[string]any      `json:"autoDelete"`
}

// Project builds the canonical representation of src.Message. It performs no I/O.
func Project(src Source) Message {
	m := src.Message

	messageType := m.MessageType
	if messageType == "" {
		messageType = "text"
	}
	attachments := projectAttachments(m.Attachments)

	out := Message{
		ID:               m.ID,
		Content:          m.Content,
		Type:             messageType,
		MessageType:      messageType,
		Media:            attachments,
		Attachments:      attachments,
		SenderID:         m.SenderID,
		SenderName:       senderName(src.Sender, m.SenderName),
		Reactions:        ProjectReactions(m.Reactions),
		IsEdited:         m.IsEdited,
		IsForwarded:      m.IsForwarded,
		IsDeleted:        m.IsDeleted,
		IsStarred:        m.IsStarred,
		Status:           orDefault(m.Status, models.StatusSent),
		ModerationStatus: orDefault(m.ModerationStatus, models.ModerationActive),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		Timestamp:        m.CreatedAt,
		DeliveredTo:      nonNil(m.DeliveredTo),
		ReadBy:           nonNil(m.ReadBy),
	}
	if src.Sender != nil {
		out.SenderAvatar = src.Sender.ProfileImageURL
	}
	if m.IsForwarded && m.ForwardedFrom != nil {
		fwd := *m.ForwardedFrom
		out.ForwardedFrom = &fwd
	}
	if len(m.Encryption) > 0 {
		out.Encryption = m.Encryption
	}
	if len(m.AutoDelete) > 0 {
		out.AutoDelete = m.AutoDelete
	}
	if m.ReplyToID != nil {
		out.ReplyTo = projectReply(*m.ReplyToID, src.Reply, src.ReplySender)
	}
	return out
}

// ProjectReactions normalizes stored reaction entries.
func ProjectReactions(reactions models.Reactions) []Reaction {
	out := make([]Reaction, 0, len(reactions))
	for _, r := range reactions {
		entry := Reaction{
			Type:  r.Type,
			Count: max(0, r.Count),
			Users: nonNil(r.Users),
		}
		if !r.CreatedAt.IsZero() {
			createdAt := r.CreatedAt
			entry.CreatedAt = &createdAt
		}
		out = append(out, entry)
	}
	return out
}

func projectAttachments(attachments models.Attachments) []Attachment {
	out := make([]Attachment, 0, len(attachments))
	for _, a := range attachments {
		metadata := a.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		out = append(out, Attachment{
			ID:        a.ID,
			Type:      orDefault(a.Type, "document"),
			URL:       a.URL,
			Filename:  a.Filename,
			Size:      a.Size,
			Thumbnail: a.Thumbnail,
			Metadata:  metadata,
		})
	}
	return out
}

func projectReply(replyID string, reply *models.Message, replySender *models.User) *ReplyTo {
	out := &ReplyTo{ID: replyID, SenderName: unknownSender}
	if reply == nil {
		return out
	}
	content := reply.Content
	senderID := reply.SenderID
	messageType := orDefault(reply.MessageType, "text")
	out.Content = &content
	out.SenderID = &senderID
	out.Type = &messageType
	out.SenderName = senderName(replySender, reply.SenderName)
	return out
}

func senderName(user *models.User, stored string) string {
	if user != nil {
		if name := user.DisplayName(); name != "" {
			return name
		}
	}
	if stored != "" {
		return stored
	}
	return unknownSender
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
