package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/dataaccess"
	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/observability"
	"neighbourhood-chat/internal/principal"
	"neighbourhood-chat/internal/projection"
	"neighbourhood-chat/internal/reactions"
	"neighbourhood-chat/internal/repositories"
)

const (
	maxReactionRetries = 5
	reactionBackoff    = 10 * time.Millisecond
)

// ReactionResult is the reaction state of a message after a change.
type ReactionResult struct {
	MessageID string                `json:"messageId"`
	Reactions []projection.Reaction `json:"reactions"`
	Added     bool                  `json:"added"`
}

// ReactionService toggles reactions with optimistic concurrency.
type ReactionService struct {
	groups   repositories.GroupRepository
	messages repositories.MessageRepository
	audit    repositories.AuditRepository
	exec     *dataaccess.Executor
	clock    *ids.Clock
}

// NewReactionService constructs a ReactionService.
func NewReactionService(groups repositories.GroupRepository, messages repositories.MessageRepository, audit repositories.AuditRepository, exec *dataaccess.Executor, clock *ids.Clock) *ReactionService {
	if clock == nil {
		clock = ids.NewClock()
	}
	return &ReactionService{groups: groups, messages: messages, audit: audit, exec: exec, clock: clock}
}

// Toggle adds the caller's reaction, or removes it when already present.
func (s *ReactionService) Toggle(ctx context.Context, p principal.Principal, messageID, reactionType string) (ReactionResult, error) {
	ctx, span := tracer.Start(ctx, "reactions.toggle")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", messageID), attribute.String("reaction.type", reactionType))

	if !ids.Valid(messageID) {
		return ReactionResult{}, fail(span, apperrors.Input(apperrors.CodeInvalidMessageID, "Invalid message id"))
	}
	if !models.IsReactionType(reactionType) {
		return ReactionResult{}, fail(span, apperrors.Validation(apperrors.CodeInvalidReaction, "Invalid reaction type"))
	}

	msg, err := s.load(ctx, messageID)
	if err != nil {
		return ReactionResult{}, fail(span, err)
	}
	if err := s.authorize(ctx, p, msg); err != nil {
		return ReactionResult{}, fail(span, err)
	}

	// Target state comes from the first load; retries re-apply it.
	added := !reactions.Has(msg.Reactions, reactionType, p.UserID)
	updated, err := s.compareAndSwap(ctx, msg, func(current models.Reactions) (models.Reactions, bool) {
		return reactions.Set(current, reactionType, p.UserID, added, s.clock.Now())
	})
	if err != nil {
		return ReactionResult{}, fail(span, err)
	}

	direction := "remove"
	if added {
		direction = "add"
	}
	observability.IncReactionToggle(direction)
	return ReactionResult{MessageID: messageID, Reactions: projection.ProjectReactions(updated), Added: added}, nil
}

// ClearReactions empties a message's reactions. Admin only.
func (s *ReactionService) ClearReactions(ctx context.Context, p principal.Principal, messageID string) (ReactionResult, error) {
	ctx, span := tracer.Start(ctx, "reactions.clear")
	defer span.End()

	if !p.IsAdmin() {
		return ReactionResult{}, fail(span, apperrors.Forbidden(apperrors.CodeAdminRequired, "Administrator access required"))
	}
	if !ids.Valid(messageID) {
		return ReactionResult{}, fail(span, apperrors.Input(apperrors.CodeInvalidMessageID, "Invalid message id"))
	}
	msg, err := s.load(ctx, messageID)
	if err != nil {
		return ReactionResult{}, fail(span, err)
	}

	removed := 0
	for _, r := range msg.Reactions {
		removed += r.Count
	}
	updated, err := s.compareAndSwap(ctx, msg, func(current models.Reactions) (models.Reactions, bool) {
		return reactions.Clear(), len(current) > 0
	})
	if err != nil {
		return ReactionResult{}, fail(span, err)
	}

	if s.audit != nil {
		entry := models.AuditEntry{
			ID:         ids.New(),
			AdminID:    p.UserID,
			Action:     "reactions_clear",
			TargetType: models.ContentTypeMessage,
			TargetID:   messageID,
			Details:    models.JSONMap{"removedReactions": removed},
			CreatedAt:  s.clock.Now(),
		}
		err := s.exec.Do(ctx, "audit.append", func(ctx context.Context) error {
			return s.audit.AppendAudit(ctx, entry)
		}, dataaccess.NoRetry())
		if err != nil {
			apperrors.Report(ctx, "audit.append", apperrors.Classify(err), map[string]any{"message_id": messageID})
		}
	}
	return ReactionResult{MessageID: messageID, Reactions: projection.ProjectReactions(updated)}, nil
}

func (s *ReactionService) load(ctx context.Context, messageID string) (models.Message, error) {
	msg, err := dataaccess.Get(ctx, s.exec, "messages.get", func(ctx context.Context) (models.Message, error) {
		return s.messages.GetMessage(ctx, messageID)
	})
	if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && msg.ModerationStatus != models.ModerationActive) {
		return models.Message{}, apperrors.NotFound(apperrors.CodeMessageNotFound, "Message not found")
	}
	return msg, err
}

func (s *ReactionService) authorize(ctx context.Context, p principal.Principal, msg models.Message) error {
	switch msg.ChatType {
	case models.ChatTypeGroup:
		return requireMember(ctx, s.exec, s.groups, msg.ChatID, p.UserID)
	default:
		// private chats are not served here
		return apperrors.Forbidden(apperrors.CodeMessageAccessDenied, "You cannot react to this message")
	}
}

// compareAndSwap applies change to the latest reactions and writes them
// guarded by the message version, reloading before every retry. change must be
// idempotent; when it reports no change nothing is written.
func (s *ReactionService) compareAndSwap(ctx context.Context, first models.Message, change func(models.Reactions) (models.Reactions, bool)) (models.Reactions, error) {
	current := first
	attempt := 0
	var result models.Reactions
	err := s.exec.Do(ctx, "messages.update_reactions", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			reloaded, err := s.load(ctx, current.ID)
			if err != nil {
				return err
			}
			current = reloaded
		}
		next, changed := change(current.Reactions)
		if !changed {
			result = next
			return nil
		}
		if !reactions.Valid(next) {
			return apperrors.Invariant("reaction entries out of shape")
		}
		err := s.messages.UpdateReactions(ctx, current.ID, next, current.Version, s.clock.Now())
		if errors.Is(err, repositories.ErrVersionConflict) {
			return apperrors.Conflict(apperrors.CodeReactionConflict, "The message was modified concurrently, please retry")
		}
		if err != nil {
			return err
		}
		result = next
		return nil
	},
		dataaccess.WithRetries(maxReactionRetries),
		dataaccess.WithBackoff(reactionBackoff),
		dataaccess.WithRetryIf(func(e *apperrors.Error) bool { return e.Code == apperrors.CodeReactionConflict }),
	)
	return result, err
}
