package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/dataaccess"
	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/principal"
	"neighbourhood-chat/internal/projection"
	"neighbourhood-chat/internal/repositories"
)

// GroupSummary is one entry of the caller's group list.
type GroupSummary struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Type         string              `json:"type"`
	MemberRole   string              `json:"memberRole"`
	MemberCount  int                 `json:"memberCount"`
	MessageCount int                 `json:"messageCount"`
	LastMessage  *projection.Message `json:"lastMessage"`
	LastActivity time.Time           `json:"lastActivity"`
	CreatedAt    time.Time           `json:"createdAt"`
	HasError     bool                `json:"hasError,omitempty"`
}

// MarshalJSON renders a failed summary as {id, hasError}.
func (g GroupSummary) MarshalJSON() ([]byte, error) {
	if g.HasError {
		return json.Marshal(struct {
			ID       string `json:"id"`
			HasError bool   `json:"hasError"`
		}{g.ID, true})
	}
	type plain GroupSummary
	return json.Marshal(plain(g))
}

// CreateGroupInput is the body of a group creation.
type CreateGroupInput struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Description string `json:"description" validate:"max=1000"`
	Type        string `json:"type" validate:"omitempty,oneof=public private announcement"`
}

// Member is one entry of a group's member list.
type Member struct {
	UserID          string    `json:"userId"`
	Role            string    `json:"role"`
	JoinedAt        time.Time `json:"joinedAt"`
	Name            string    `json:"name"`
	ProfileImageURL *string   `json:"profileImageUrl"`
}

// LeaveResult reports what a leave did to the group.
type LeaveResult struct {
	GroupID          string `json:"groupId"`
	RemainingMembers int    `json:"remainingMembers"`
	GroupDeactivated bool   `json:"groupDeactivated"`
}

// GroupService manages groups and their membership.
type GroupService struct {
	groups   repositories.GroupRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	chat     *ChatService
	exec     *dataaccess.Executor
	clock    *ids.Clock
}

// NewGroupService constructs a GroupService. chat supplies last-message
// projection so list entries match the history wire shape.
func NewGroupService(groups repositories.GroupRepository, messages repositories.MessageRepository, users repositories.UserRepository, chat *ChatService, exec *dataaccess.Executor, clock *ids.Clock) *GroupService {
	if clock == nil {
		clock = ids.NewClock()
	}
	return &GroupService{groups: groups, messages: messages, users: users, chat: chat, exec: exec, clock: clock}
}

// ListGroups returns every active group of the caller. A group whose
// details fail to load is reported as {id, hasError} instead of failing the list.
func (s *GroupService) ListGroups(ctx context.Context, p principal.Principal) ([]GroupSummary, error) {
	ctx, span := tracer.Start(ctx, "groups.list")
	defer span.End()

	memberships, err := dataaccess.Get(ctx, s.exec, "groups.list_for_user", func(ctx context.Context) ([]models.GroupMembership, error) {
		return s.groups.ListGroupsForUser(ctx, p.UserID)
	})
	if err != nil {
		return nil, fail(span, err)
	}

	out := make([]GroupSummary, 0, len(memberships))
	for _, m := range memberships {
		summary, err := s.summarize(ctx, m)
		if err != nil {
			apperrors.Report(ctx, "groups.summarize", apperrors.Classify(err), map[string]any{"group_id": m.ID})
			out = append(out, GroupSummary{ID: m.ID, HasError: true})
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *GroupService) summarize(ctx context.Context, m models.GroupMembership) (GroupSummary, error) {
	members, err := dataaccess.Get(ctx, s.exec, "groups.count_members", func(ctx context.Context) (int, error) {
		return s.groups.CountMembers(ctx, m.ID)
	})
	if err != nil {
		return GroupSummary{}, err
	}
	count, err := dataaccess.Get(ctx, s.exec, "messages.count_active", func(ctx context.Context) (int, error) {
		return s.messages.CountActive(ctx, m.ID)
	})
	if err != nil {
		return GroupSummary{}, err
	}
	latest, err := dataaccess.Get(ctx, s.exec, "messages.latest_active", func(ctx context.Context) (*models.Message, error) {
		return s.messages.LatestActive(ctx, m.ID)
	})
	if err != nil {
		return GroupSummary{}, err
	}

	summary := GroupSummary{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Type:         m.Type,
		MemberRole:   m.MemberRole,
		MemberCount:  members,
		MessageCount: count,
		LastActivity: m.LastActivity,
		CreatedAt:    m.CreatedAt,
	}
	if latest != nil {
		projected := s.chat.projectAll(ctx, []models.Message{*latest})
		summary.LastMessage = &projected[0]
	}
	return summary, nil
}

// CreateGroup creates a group in the caller's neighbourhood with the caller
// as its admin.
func (s *GroupService) CreateGroup(ctx context.Context, p principal.Principal, in CreateGroupInput) (GroupSummary, error) {
	ctx, span := tracer.Start(ctx, "groups.create")
	defer span.End()

	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return GroupSummary{}, fail(span, apperrors.Validation(apperrors.CodeValidation, "Invalid group payload").WithDetails(fieldErrors(err)))
	}
	if in.Type == "" {
		in.Type = models.GroupTypePublic
	}

	user, err := dataaccess.Get(ctx, s.exec, "users.get", func(ctx context.Context) (models.User, error) {
		return s.users.GetUser(ctx, p.UserID)
	})
	if err != nil && !errors.Is(err, repositories.ErrUserNotFound) {
		return GroupSummary{}, fail(span, err)
	}
	if err != nil || user.NeighbourhoodID == nil || *user.NeighbourhoodID == "" {
		return GroupSummary{}, fail(span, apperrors.Business(apperrors.CodeNoNeighbourhood, "You must belong to a neighbourhood to create a group"))
	}

	taken, err := dataaccess.Get(ctx, s.exec, "groups.name_taken", func(ctx context.Context) (bool, error) {
		return s.groups.NameTaken(ctx, *user.NeighbourhoodID, in.Name)
	})
	if err != nil {
		return GroupSummary{}, fail(span, err)
	}
	if taken {
		return GroupSummary{}, fail(span, duplicateName())
	}

	now := s.clock.Now()
	created, err := dataaccess.Get(ctx, s.exec, "groups.create", func(ctx context.Context) (models.Group, error) {
		return s.groups.CreateGroup(ctx, models.Group{
			ID:              ids.New(),
			NeighbourhoodID: *user.NeighbourhoodID,
			Name:            in.Name,
			Description:     in.Description,
			Type:            in.Type,
			CreatedBy:       p.UserID,
			CreatedAt:       now,
			LastActivity:    now,
			IsActive:        true,
		})
	}, dataaccess.NoRetry())
	if errors.Is(err, repositories.ErrDuplicateGroupName) {
		return GroupSummary{}, fail(span, duplicateName())
	}
	if err != nil {
		return GroupSummary{}, fail(span, err)
	}
	span.SetAttributes(attribute.String("group.id", created.ID))

	logger.FromContext(ctx).Info().Str("group_id", created.ID).Str("neighbourhood_id", created.NeighbourhoodID).Msg("group created")
	return GroupSummary{
		ID:           created.ID,
		Name:         created.Name,
		Description:  created.Description,
		Type:         created.Type,
		MemberRole:   models.MemberRoleAdmin,
		MemberCount:  1,
		LastActivity: created.LastActivity,
		CreatedAt:    created.CreatedAt,
	}, nil
}

// JoinGroup adds the caller to an active public group.
func (s *GroupService) JoinGroup(ctx context.Context, p principal.Principal, groupID string) (models.Group, error) {
	ctx, span := tracer.Start(ctx, "groups.join")
	defer span.End()

	group, err := s.activeGroup(ctx, groupID)
	if err != nil {
		return models.Group{}, fail(span, err)
	}
	joined, err := dataaccess.Get(ctx, s.exec, "groups.is_member", func(ctx context.Context) (bool, error) {
		return s.groups.IsMember(ctx, groupID, p.UserID)
	})
	if err != nil {
		return models.Group{}, fail(span, err)
	}
	if joined {
		return models.Group{}, fail(span, apperrors.Business(apperrors.CodeAlreadyMember, "You are already a member of this group"))
	}
	if group.Type != models.GroupTypePublic {
		return models.Group{}, fail(span, apperrors.Forbidden(apperrors.CodeGroupNotJoinable, "This group cannot be joined"))
	}

	// not replayed: a lost acknowledgement would surface as ALREADY_MEMBER
	err = s.exec.Do(ctx, "groups.add_member", func(ctx context.Context) error {
		return s.groups.AddMember(ctx, groupID, p.UserID, models.MemberRoleMember, s.clock.Now())
	}, dataaccess.NoRetry())
	if errors.Is(err, repositories.ErrAlreadyMember) {
		return models.Group{}, fail(span, apperrors.Business(apperrors.CodeAlreadyMember, "You are already a member of this group"))
	}
	if err != nil {
		return models.Group{}, fail(span, err)
	}
	return group, nil
}

// LeaveGroup removes the caller. An emptied group is deactivated.
func (s *GroupService) LeaveGroup(ctx context.Context, p principal.Principal, groupID string) (LeaveResult, error) {
	ctx, span := tracer.Start(ctx, "groups.leave")
	defer span.End()

	if _, err := s.activeGroup(ctx, groupID); err != nil {
		return LeaveResult{}, fail(span, err)
	}

	outcome, err := dataaccess.Get(ctx, s.exec, "groups.remove_member", func(ctx context.Context) (repositories.LeaveOutcome, error) {
		return s.groups.RemoveMember(ctx, groupID, p.UserID)
	})
	if errors.Is(err, repositories.ErrNotMember) {
		return LeaveResult{}, fail(span, apperrors.NotFound(apperrors.CodeNotMember, "You are not a member of this group"))
	}
	if err != nil {
		return LeaveResult{}, fail(span, err)
	}

	log := logger.FromContext(ctx).Info().Str("group_id", groupID).Int("remaining", outcome.Remaining)
	if outcome.PromotedUserID != "" {
		log = log.Str("promoted_user_id", outcome.PromotedUserID)
	}
	log.Bool("deactivated", outcome.Deactivated).Msg("member left group")

	return LeaveResult{GroupID: groupID, RemainingMembers: outcome.Remaining, GroupDeactivated: outcome.Deactivated}, nil
}

// ListMembers returns the members of a group the caller belongs to.
func (s *GroupService) ListMembers(ctx context.Context, p principal.Principal, groupID string) ([]Member, error) {
	ctx, span := tracer.Start(ctx, "groups.list_members")
	defer span.End()

	if !ids.Valid(groupID) {
		return nil, fail(span, apperrors.Input(apperrors.CodeInvalidGroupID, "Invalid group id"))
	}
	if err := requireMember(ctx, s.exec, s.groups, groupID, p.UserID); err != nil {
		return nil, fail(span, err)
	}
	profiles, err := dataaccess.Get(ctx, s.exec, "groups.list_members", func(ctx context.Context) ([]models.MemberProfile, error) {
		return s.groups.ListMembers(ctx, groupID)
	})
	if err != nil {
		return nil, fail(span, err)
	}

	out := make([]Member, 0, len(profiles))
	for _, mp := range profiles {
		name := models.User{FirstName: mp.FirstName, LastName: mp.LastName}.DisplayName()
		if name == "" {
			name = "Unknown"
		}
		out = append(out, Member{
			UserID:          mp.UserID,
			Role:            mp.Role,
			JoinedAt:        mp.JoinedAt,
			Name:            name,
			ProfileImageURL: mp.ProfileImageURL,
		})
	}
	return out, nil
}

func (s *GroupService) activeGroup(ctx context.Context, groupID string) (models.Group, error) {
	if !ids.Valid(groupID) {
		return models.Group{}, apperrors.Input(apperrors.CodeInvalidGroupID, "Invalid group id")
	}
	group, err := dataaccess.Get(ctx, s.exec, "groups.get", func(ctx context.Context) (models.Group, error) {
		return s.groups.GetGroup(ctx, groupID)
	})
	if errors.Is(err, repositories.ErrGroupNotFound) || (err == nil && !group.IsActive) {
		return models.Group{}, apperrors.NotFound(apperrors.CodeGroupNotFound, "Group not found")
	}
	return group, err
}

func duplicateName() *apperrors.Error {
	return apperrors.Business(apperrors.CodeDuplicateGroupName, "A group with this name already exists in your neighbourhood")
}
