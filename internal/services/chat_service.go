package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/dataaccess"
	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/observability"
	"neighbourhood-chat/internal/postcommit"
	"neighbourhood-chat/internal/principal"
	"neighbourhood-chat/internal/projection"
	"neighbourhood-chat/internal/repositories"
	"neighbourhood-chat/internal/ws"
)

const (
	EventNewMessage  = "new_message"
	EventMessageSent = "message_sent"

	DefaultFetchLimit = 50
	MaxFetchLimit     = 100

	defaultAttachmentType = "document"
	defaultMessageType    = "text"
)

// AttachmentInput is one attachment descriptor of a send request.
type AttachmentInput struct {
	ID        string         `json:"id" validate:"max=64"`
	Type      string         `json:"type" validate:"max=50"`
	URL       *string        `json:"url" validate:"omitempty,max=2048"`
	Filename  *string        `json:"filename" validate:"omitempty,max=255"`
	Size      *int64         `json:"size" validate:"omitempty,gte=0"`
	Thumbnail *string        `json:"thumbnail" validate:"omitempty,max=2048"`
	Metadata  map[string]any `json:"metadata"`
}

// SendMessageInput is the body of a group send.
type SendMessageInput struct {
	Content       string            `json:"content"`
	Type          string            `json:"type" validate:"omitempty,oneof=text image audio video document location contact"`
	MessageType   string            `json:"messageType" validate:"omitempty,oneof=text image audio video document location contact"`
	ReplyToID     *string           `json:"replyToId"`
	IsForwarded   bool              `json:"isForwarded"`
	ForwardedFrom json.RawMessage   `json:"forwardedFrom"`
	Attachments   []AttachmentInput `json:"attachments" validate:"max=20,dive"`
}

// FetchQuery pages through a group's history.
type FetchQuery struct {
	Limit  int
	Offset int
	Before *time.Time
}

// ChatService sends and fetches group messages.
type ChatService struct {
	groups     repositories.GroupRepository
	messages   repositories.MessageRepository
	users      repositories.UserRepository
	hub        ws.Broadcaster
	notifier   *NotificationEmitter
	dispatcher *postcommit.Dispatcher
	exec       *dataaccess.Executor
	clock      *ids.Clock
	locks      *keyedMutex
	slowSend   time.Duration
}

// ChatDeps bundles the collaborators of ChatService.
type ChatDeps struct {
	Groups     repositories.GroupRepository
	Messages   repositories.MessageRepository
	Users      repositories.UserRepository
	Hub        ws.Broadcaster
	Notifier   *NotificationEmitter
	Dispatcher *postcommit.Dispatcher
	Exec       *dataaccess.Executor
	Clock      *ids.Clock
	SlowSend   time.Duration
}

// NewChatService constructs a ChatService.
func NewChatService(deps ChatDeps) *ChatService {
	if deps.SlowSend <= 0 {
		deps.SlowSend = 3 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = ids.NewClock()
	}
	return &ChatService{
		groups:     deps.Groups,
		messages:   deps.Messages,
		users:      deps.Users,
		hub:        deps.Hub,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		exec:       deps.Exec,
		clock:      deps.Clock,
		locks:      newKeyedMutex(),
		slowSend:   deps.SlowSend,
	}
}

// draft is a send request that passed shape validation.
type draft struct {
	content     string
	messageType string
	replyToID   *string
	isForwarded bool
	forward     map[string]any
	attachments []AttachmentInput
}

// SendGroupMessage runs the send pipeline and returns the projected message.
func (s *ChatService) SendGroupMessage(ctx context.Context, p principal.Principal, groupID string, in SendMessageInput) (projection.Message, error) {
	ctx, span := tracer.Start(ctx, "chat.send_group_message")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID), attribute.String("user.id", p.UserID))

	start := time.Now()
	var messageID string
	defer func() {
		if elapsed := time.Since(start); elapsed > s.slowSend {
			logger.FromContext(ctx).Warn().
				Str("operation", "send_group_message").
				Str("group_id", groupID).
				Str("message_id", messageID).
				Dur("elapsed", elapsed).
				Msg("slow group send")
		}
	}()

	d, err := validateSend(in)
	if err != nil {
		return projection.Message{}, fail(span, err)
	}

	if !ids.Valid(groupID) {
		return projection.Message{}, fail(span, apperrors.Input(apperrors.CodeInvalidGroupID, "Invalid group id"))
	}
	if d.replyToID != nil && !ids.Valid(*d.replyToID) {
		return projection.Message{}, fail(span, apperrors.Input(apperrors.CodeInvalidReplyID, "Invalid reply message id"))
	}

	group, err := dataaccess.Get(ctx, s.exec, "groups.get_with_members", func(ctx context.Context) (models.GroupWithMembers, error) {
		return s.groups.GetGroupWithMembers(ctx, groupID)
	})
	if err != nil && !errors.Is(err, repositories.ErrGroupNotFound) {
		return projection.Message{}, fail(span, err)
	}
	if _, member := group.Member(p.UserID); err != nil || !group.IsActive || !member {
		return projection.Message{}, fail(span, apperrors.Forbidden(apperrors.CodeGroupAccessDenied, "You are not a member of this group"))
	}

	sender := s.loadUser(ctx, p.UserID)
	name := "Unknown"
	if sender != nil && sender.DisplayName() != "" {
		name = sender.DisplayName()
	}

	var reply *models.Message
	var replySender *models.User
	if d.replyToID != nil {
		exists, err := dataaccess.Get(ctx, s.exec, "messages.reply_exists", func(ctx context.Context) (bool, error) {
			return s.messages.ExistsActiveInChat(ctx, *d.replyToID, groupID, models.ChatTypeGroup)
		})
		if err != nil {
			return projection.Message{}, fail(span, err)
		}
		if !exists {
			return projection.Message{}, fail(span, apperrors.Business(apperrors.CodeReplyNotFound, "The message you are replying to does not exist"))
		}
		reply, replySender = s.loadReply(ctx, *d.replyToID)
	}

	var forward *models.ForwardInfo
	if d.isForwarded {
		forward, err = s.validateForward(ctx, p, name, d.forward)
		if err != nil {
			return projection.Message{}, fail(span, err)
		}
	}

	now := s.clock.Now()
	msg := models.Message{
		ID:               ids.New(),
		ChatID:           groupID,
		ChatType:         models.ChatTypeGroup,
		SenderID:         p.UserID,
		SenderName:       name,
		Content:          d.content,
		MessageType:      d.messageType,
		Attachments:      normalizeAttachments(d.attachments),
		ReplyToID:        d.replyToID,
		IsForwarded:      d.isForwarded,
		ForwardedFrom:    forward,
		Reactions:        models.Reactions{},
		Status:           models.StatusSending,
		ModerationStatus: models.ModerationActive,
		ReportedBy:       models.Reports{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	messageID = msg.ID
	span.SetAttributes(attribute.String("message.id", msg.ID))

	// emission order on the group room must follow commit order
	unlock := s.locks.Lock(groupID)
	defer unlock()

	stored, err := s.insert(ctx, msg)
	if err != nil {
		return projection.Message{}, fail(span, err)
	}

	err = s.exec.Do(ctx, "messages.mark_sent", func(ctx context.Context) error {
		return s.messages.UpdateStatus(ctx, stored.ID, models.StatusSent, s.clock.Now())
	})
	if err != nil {
		// the message is durable; it stays visible as sending
		apperrors.Report(ctx, "messages.mark_sent", apperrors.Classify(err), map[string]any{"message_id": stored.ID})
	} else {
		stored.Status = models.StatusSent
	}
	observability.IncMessagesSent()

	out := projection.Project(projection.Source{Message: stored, Sender: sender, Reply: reply, ReplySender: replySender})
	s.afterSend(ctx, group, stored, out)
	return out, nil
}

// insert writes msg, tolerating a retried attempt whose first try committed.
func (s *ChatService) insert(ctx context.Context, msg models.Message) (models.Message, error) {
	return dataaccess.Get(ctx, s.exec, "messages.insert", func(ctx context.Context) (models.Message, error) {
		stored, err := s.messages.InsertGroupMessage(ctx, msg)
		if err != nil && apperrors.HasCode(apperrors.Classify(err), apperrors.CodeDuplicateKey) {
			existing, getErr := s.messages.GetMessage(ctx, msg.ID)
			if getErr == nil && existing.SenderID == msg.SenderID && existing.ChatID == msg.ChatID {
				return existing, nil
			}
		}
		return stored, err
	})
}

func (s *ChatService) afterSend(ctx context.Context, group models.GroupWithMembers, stored models.Message, out projection.Message) {
	s.dispatcher.Enqueue(ctx, postcommit.Task{
		Name: "group.touch_activity",
		Run: func(ctx context.Context) error {
			return s.exec.Do(ctx, "groups.touch_activity", func(ctx context.Context) error {
				return s.groups.TouchActivity(ctx, group.ID, stored.CreatedAt)
			})
		},
	})
	s.dispatcher.Enqueue(ctx, postcommit.Task{
		Name: "fanout.new_message",
		Run: func(ctx context.Context) error {
			return errors.Join(
				s.hub.Publish(ctx, ws.GroupRoom(group.ID), EventNewMessage, out),
				s.hub.Publish(ctx, ws.UserRoom(stored.SenderID), EventMessageSent, out),
			)
		},
	})
	if s.notifier != nil {
		s.dispatcher.Enqueue(ctx, postcommit.Task{
			Name: "notifications.group_message",
			Run: func(ctx context.Context) error {
				return s.notifier.NotifyGroupMessage(ctx, group, stored)
			},
		})
	}
}

// FetchGroupMessages returns a page of active messages, oldest first.
func (s *ChatService) FetchGroupMessages(ctx context.Context, p principal.Principal, groupID string, q FetchQuery) ([]projection.Message, error) {
	ctx, span := tracer.Start(ctx, "chat.fetch_group_messages")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID))

	if q.Limit < 1 || q.Limit > MaxFetchLimit {
		return nil, fail(span, apperrors.Validation(apperrors.CodeValidation, "limit must be between 1 and 100"))
	}
	if q.Offset < 0 {
		return nil, fail(span, apperrors.Validation(apperrors.CodeValidation, "offset must not be negative"))
	}
	if !ids.Valid(groupID) {
		return nil, fail(span, apperrors.Input(apperrors.CodeInvalidGroupID, "Invalid group id"))
	}
	if err := requireMember(ctx, s.exec, s.groups, groupID, p.UserID); err != nil {
		return nil, fail(span, err)
	}

	msgs, err := dataaccess.Get(ctx, s.exec, "messages.list_group", func(ctx context.Context) ([]models.Message, error) {
		return s.messages.ListGroupMessages(ctx, models.MessageQuery{ChatID: groupID, Before: q.Before, Limit: q.Limit, Offset: q.Offset})
	})
	if err != nil {
		return nil, fail(span, err)
	}

	out := s.projectAll(ctx, msgs)
	slices.Reverse(out)
	return out, nil
}

// projectAll enriches msgs with senders and reply targets in two batch reads.
// Enrichment failures degrade to the stored snapshot.
func (s *ChatService) projectAll(ctx context.Context, msgs []models.Message) []projection.Message {
	var replyIDs []string
	for _, m := range msgs {
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	replies := map[string]*models.Message{}
	if len(replyIDs) > 0 {
		found, err := dataaccess.Get(ctx, s.exec, "messages.get_many", func(ctx context.Context) ([]models.Message, error) {
			return s.messages.GetMessages(ctx, replyIDs)
		})
		if err != nil {
			logger.FromContext(ctx).Warn().Err(err).Msg("reply enrichment failed")
		}
		replies = messagesByID(found)
	}

	seen := map[string]bool{}
	var userIDs []string
	addUser := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			userIDs = append(userIDs, id)
		}
	}
	for _, m := range msgs {
		addUser(m.SenderID)
	}
	for _, r := range replies {
		addUser(r.SenderID)
	}

	users := map[string]*models.User{}
	if len(userIDs) > 0 {
		found, err := dataaccess.Get(ctx, s.exec, "users.get_many", func(ctx context.Context) ([]models.User, error) {
			return s.users.GetUsers(ctx, userIDs)
		})
		if err != nil {
			logger.FromContext(ctx).Warn().Err(err).Msg("sender enrichment failed")
		}
		users = usersByID(found)
	}

	out := make([]projection.Message, 0, len(msgs))
	for _, m := range msgs {
		src := projection.Source{Message: m, Sender: users[m.SenderID]}
		if m.ReplyToID != nil {
			if r, ok := replies[*m.ReplyToID]; ok {
				src.Reply = r
				src.ReplySender = users[r.SenderID]
			}
		}
		out = append(out, projection.Project(src))
	}
	return out
}

// loadUser returns nil when the directory has no such user or is unreachable.
func (s *ChatService) loadUser(ctx context.Context, userID string) *models.User {
	u, err := dataaccess.Get(ctx, s.exec, "users.get", func(ctx context.Context) (models.User, error) {
		return s.users.GetUser(ctx, userID)
	})
	if err != nil {
		if !errors.Is(err, repositories.ErrUserNotFound) {
			logger.FromContext(ctx).Warn().Err(err).Str("user_id", userID).Msg("user lookup failed")
		}
		return nil
	}
	return &u
}

func (s *ChatService) loadReply(ctx context.Context, replyID string) (*models.Message, *models.User) {
	reply, err := dataaccess.Get(ctx, s.exec, "messages.get", func(ctx context.Context) (models.Message, error) {
		return s.messages.GetMessage(ctx, replyID)
	})
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("reply_to_id", replyID).Msg("reply enrichment failed")
		return nil, nil
	}
	return &reply, s.loadUser(ctx, reply.SenderID)
}

func (s *ChatService) validateForward(ctx context.Context, p principal.Principal, forwarderName string, raw map[string]any) (*models.ForwardInfo, error) {
	messageID, _ := raw["messageId"].(string)
	senderID, _ := raw["originalSenderId"].(string)
	if messageID == "" || senderID == "" {
		return nil, apperrors.Business(apperrors.CodeInvalidForward, "Forwarded messages need messageId and originalSenderId")
	}
	if !ids.Valid(messageID) {
		return nil, apperrors.Business(apperrors.CodeInvalidForward, "Invalid forwarded message id")
	}
	exists, err := dataaccess.Get(ctx, s.exec, "messages.forward_exists", func(ctx context.Context) (bool, error) {
		return s.messages.ExistsActive(ctx, messageID)
	})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.Business(apperrors.CodeInvalidForward, "The forwarded message does not exist")
	}

	info := &models.ForwardInfo{
		MessageID:        messageID,
		OriginalSenderID: senderID,
		ForwardedBy:      p.UserID,
		ForwardedByName:  forwarderName,
	}
	info.OriginalSenderName, _ = raw["originalSenderName"].(string)
	info.OriginalChatID, _ = raw["originalChatId"].(string)
	info.OriginalChatName, _ = raw["originalChatName"].(string)
	at := s.clock.Now()
	if v, ok := raw["forwardedAt"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			at = parsed.UTC()
		}
	}
	info.ForwardedAt = &at
	return info, nil
}

func validateSend(in SendMessageInput) (draft, error) {
	if err := validate.Struct(in); err != nil {
		return draft{}, apperrors.Validation(apperrors.CodeValidation, "Invalid message payload").WithDetails(fieldErrors(err))
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return draft{}, apperrors.Validation(apperrors.CodeEmptyContent, "Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return draft{}, apperrors.Validation(apperrors.CodeValidation, "Message content is too long").
			WithDetails([]map[string]string{{"field": "SendMessageInput.Content", "rule": "max"}})
	}

	for i, a := range in.Attachments {
		if blank(a.URL) && blank(a.Filename) {
			return draft{}, apperrors.Validation(apperrors.CodeInvalidAttachment, "Each attachment needs a url or a filename").
				WithDetails(map[string]any{"index": i})
		}
	}

	d := draft{
		content:     content,
		messageType: in.MessageType,
		replyToID:   in.ReplyToID,
		isForwarded: in.IsForwarded,
		attachments: in.Attachments,
	}
	if d.messageType == "" {
		d.messageType = in.Type
	}
	if d.messageType == "" {
		d.messageType = defaultMessageType
	}
	if d.replyToID != nil && *d.replyToID == "" {
		d.replyToID = nil
	}

	if in.IsForwarded {
		raw := bytes.TrimSpace(in.ForwardedFrom)
		if len(raw) == 0 || raw[0] != '{' {
			return draft{}, apperrors.Validation(apperrors.CodeValidation, "forwardedFrom must be an object")
		}
		if err := json.Unmarshal(raw, &d.forward); err != nil {
			return draft{}, apperrors.Validation(apperrors.CodeValidation, "forwardedFrom must be an object")
		}
	}
	return d, nil
}

func normalizeAttachments(in []AttachmentInput) models.Attachments {
	out := make(models.Attachments, 0, len(in))
	for _, a := range in {
		att := models.Attachment{
			ID:        a.ID,
			Type:      a.Type,
			URL:       a.URL,
			Filename:  a.Filename,
			Size:      a.Size,
			Thumbnail: a.Thumbnail,
			Metadata:  a.Metadata,
		}
		if att.ID == "" {
			att.ID = ids.New()
		}
		if att.Type == "" {
			att.Type = defaultAttachmentType
		}
		if att.Metadata == nil {
			att.Metadata = map[string]any{}
		}
		out = append(out, att)
	}
	return out
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
