package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/repositories"
)

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) CreateGroup(ctx context.Context, group models.Group) (models.Group, error) {
	args := m.Called(ctx, group)
	var out models.Group
	if val := args.Get(0); val != nil {
		out = val.(models.Group)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) NameTaken(ctx context.Context, neighbourhoodID, name string) (bool, error) {
	args := m.Called(ctx, neighbourhoodID, name)
	return args.Bool(0), args.Error(1)
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var out models.Group
	if val := args.Get(0); val != nil {
		out = val.(models.Group)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) GetGroupWithMembers(ctx context.Context, groupID string) (models.GroupWithMembers, error) {
	args := m.Called(ctx, groupID)
	var out models.GroupWithMembers
	if val := args.Get(0); val != nil {
		out = val.(models.GroupWithMembers)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *GroupRepositoryMock) ListGroupsForUser(ctx context.Context, userID string) ([]models.GroupMembership, error) {
	args := m.Called(ctx, userID)
	var out []models.GroupMembership
	if val := args.Get(0); val != nil {
		out = val.([]models.GroupMembership)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) CountMembers(ctx context.Context, groupID string) (int, error) {
	args := m.Called(ctx, groupID)
	return args.Int(0), args.Error(1)
}

func (m *GroupRepositoryMock) ListMembers(ctx context.Context, groupID string) ([]models.MemberProfile, error) {
	args := m.Called(ctx, groupID)
	var out []models.MemberProfile
	if val := args.Get(0); val != nil {
		out = val.([]models.MemberProfile)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) AddMember(ctx context.Context, groupID, userID, role string, joinedAt time.Time) error {
	args := m.Called(ctx, groupID, userID, role, joinedAt)
	return args.Error(0)
}

func (m *GroupRepositoryMock) RemoveMember(ctx context.Context, groupID, userID string) (repositories.LeaveOutcome, error) {
	args := m.Called(ctx, groupID, userID)
	var out repositories.LeaveOutcome
	if val := args.Get(0); val != nil {
		out = val.(repositories.LeaveOutcome)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) TouchActivity(ctx context.Context, groupID string, at time.Time) error {
	args := m.Called(ctx, groupID, at)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

// InsertGroupMessage returns the configured message, or the result of a
// configured func(models.Message) models.Message applied to the input.
func (m *MessageRepositoryMock) InsertGroupMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	switch val := args.Get(0).(type) {
	case models.Message:
		out = val
	case func(models.Message) models.Message:
		out = val(msg)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateStatus(ctx context.Context, messageID, status string, at time.Time) error {
	args := m.Called(ctx, messageID, status, at)
	return args.Error(0)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	args := m.Called(ctx, messageIDs)
	var out []models.Message
	if val := args.Get(0); val != nil {
		out = val.([]models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ExistsActiveInChat(ctx context.Context, messageID, chatID, chatType string) (bool, error) {
	args := m.Called(ctx, messageID, chatID, chatType)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) ExistsActive(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) ListGroupMessages(ctx context.Context, q models.MessageQuery) ([]models.Message, error) {
	args := m.Called(ctx, q)
	var out []models.Message
	if val := args.Get(0); val != nil {
		out = val.([]models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) CountActive(ctx context.Context, chatID string) (int, error) {
	args := m.Called(ctx, chatID)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) LatestActive(ctx context.Context, chatID string) (*models.Message, error) {
	args := m.Called(ctx, chatID)
	var out *models.Message
	if val := args.Get(0); val != nil {
		out = val.(*models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateReactions(ctx context.Context, messageID string, reactions models.Reactions, expectedVersion int64, at time.Time) error {
	args := m.Called(ctx, messageID, reactions, expectedVersion, at)
	return args.Error(0)
}

func (m *MessageRepositoryMock) AddReport(ctx context.Context, messageID string, report models.ContentReport, at time.Time) error {
	args := m.Called(ctx, messageID, report, at)
	return args.Error(0)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	args := m.Called(ctx, userIDs)
	var out []models.User
	if val := args.Get(0); val != nil {
		out = val.([]models.User)
	}
	return out, args.Error(1)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	args := m.Called(ctx, notifications)
	return args.Error(0)
}

type AuditRepositoryMock struct {
	mock.Mock
}

func (m *AuditRepositoryMock) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *AuditRepositoryMock) ListAudit(ctx context.Context, targetType, targetID string) ([]models.AuditEntry, error) {
	args := m.Called(ctx, targetType, targetID)
	var out []models.AuditEntry
	if val := args.Get(0); val != nil {
		out = val.([]models.AuditEntry)
	}
	return out, args.Error(1)
}

type ModerationRepositoryMock struct {
	mock.Mock
}

func (m *ModerationRepositoryMock) ListFlagged(ctx context.Context, contentType string) ([]models.FlaggedContent, error) {
	args := m.Called(ctx, contentType)
	var out []models.FlaggedContent
	if val := args.Get(0); val != nil {
		out = val.([]models.FlaggedContent)
	}
	return out, args.Error(1)
}

func (m *ModerationRepositoryMock) GetContent(ctx context.Context, contentType, contentID string) (models.FlaggedContent, error) {
	args := m.Called(ctx, contentType, contentID)
	var out models.FlaggedContent
	if val := args.Get(0); val != nil {
		out = val.(models.FlaggedContent)
	}
	return out, args.Error(1)
}

func (m *ModerationRepositoryMock) ApplyChange(ctx context.Context, change models.ModerationChange, requireFlagged bool) (models.FlaggedContent, error) {
	args := m.Called(ctx, change, requireFlagged)
	var out models.FlaggedContent
	if val := args.Get(0); val != nil {
		out = val.(models.FlaggedContent)
	}
	return out, args.Error(1)
}
