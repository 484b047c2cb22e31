package services

import (
	"context"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/repositories"
)

func TestToggleAddsThenRemoves(t *testing.T) {
	f := newFixture(t)
	msg := storedMessage(messageID, user2, baseTime)
	f.messages.On("GetMessage", mock.Anything, messageID).Return(msg, nil).Once()
	f.groups.On("IsMember", mock.Anything, groupID, user1).Return(true, nil)
	f.messages.On("UpdateReactions", mock.Anything, messageID, mock.Anything, int64(1), mock.Anything).Return(nil).Once()

	out, err := f.reaction.Toggle(context.Background(), member(), messageID, "heart")
	require.NoError(t, err)
	assert.True(t, out.Added)
	require.Len(t, out.Reactions, 1)
	assert.Equal(t, "heart", out.Reactions[0].Type)
	assert.Equal(t, 1, out.Reactions[0].Count)
	assert.Equal(t, []string{user1}, out.Reactions[0].Users)

	stored := f.messages.Calls[1].Arguments.Get(2).(models.Reactions)
	msg.Reactions = stored
	msg.Version = 2
	f.messages.On("GetMessage", mock.Anything, messageID).Return(msg, nil).Once()
	f.messages.On("UpdateReactions", mock.Anything, messageID, mock.Anything, int64(2), mock.Anything).Return(nil).Once()

	out, err = f.reaction.Toggle(context.Background(), member(), messageID, "heart")
	require.NoError(t, err)
	assert.False(t, out.Added)
	assert.Empty(t, out.Reactions)
}

func TestToggleRetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	first := storedMessage(messageID, user2, baseTime)
	concurrent := first
	concurrent.Version = 2
	concurrent.Reactions = models.Reactions{{Type: "heart", Users: []string{user2}, Count: 1, CreatedAt: baseTime}}

	f.messages.On("GetMessage", mock.Anything, messageID).Return(first, nil).Once()
	f.messages.On("GetMessage", mock.Anything, messageID).Return(concurrent, nil).Once()
	f.groups.On("IsMember", mock.Anything, groupID, user1).Return(true, nil)
	f.messages.On("UpdateReactions", mock.Anything, messageID, mock.Anything, int64(1), mock.Anything).Return(repositories.ErrVersionConflict).Once()
	f.messages.On("UpdateReactions", mock.Anything, messageID, mock.Anything, int64(2), mock.Anything).Return(nil).Once()

	out, err := f.reaction.Toggle(context.Background(), member(), messageID, "heart")
	require.NoError(t, err)
	require.Len(t, out.Reactions, 1)
	assert.Equal(t, 2, out.Reactions[0].Count)
	assert.ElementsMatch(t, []string{user1, user2}, out.Reactions[0].Users)
	f.messages.AssertExpectations(t)
}

func TestToggleSurvivesLostWriteAcknowledgement(t *testing.T) {
	f := newFixture(t)
	first := storedMessage(messageID, user2, baseTime)
	committed := first
	committed.Version = 2
	committed.Reactions = models.Reactions{{Type: "heart", Users: []string{user1}, Count: 1, CreatedAt: baseTime}}

	f.messages.On("GetMessage", mock.Anything, messageID).Return(first, nil).Once()
	f.messages.On("GetMessage", mock.Anything, messageID).Return(committed, nil).Once()
	f.groups.On("IsMember", mock.Anything, groupID, user1).Return(true, nil)
	f.messages.On("UpdateReactions", mock.Anything, messageID, mock.Anything, int64(1), mock.Anything).Return(syscall.ECONNRESET).Once()

	out, err := f.reaction.Toggle(context.Background(), member(), messageID, "heart")
	require.NoError(t, err)
	assert.True(t, out.Added)
	require.Len(t, out.Reactions, 1)
	assert.Equal(t, []string{user1}, out.Reactions[0].Users)
	f.messages.AssertNumberOfCalls(t, "UpdateReactions", 1)
}

func TestToggleGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	msg := storedMessage(messageID, user2, baseTime)
	f.messages.On("GetMessage", mock.Anything, messageID).Return(msg, nil)
	f.groups.On("IsMember", mock.Anything, groupID, user1).Return(true, nil)
	f.messages.On("UpdateReactions", mock.Anything, messageID, mock.Anything, mock.Anything, mock.Anything).Return(repositories.ErrVersionConflict)

	_, err := f.reaction.Toggle(context.Background(), member(), messageID, "smile")
	requireCode(t, err, "REACTION_CONFLICT", 409)
	f.messages.AssertNumberOfCalls(t, "UpdateReactions", maxReactionRetries+1)
}

func TestToggleValidationAndAccess(t *testing.T) {
	f := newFixture(t)
	_, err := f.reaction.Toggle(context.Background(), member(), "M1", "heart")
	requireCode(t, err, "INVALID_MESSAGE_ID", 400)

	_, err = f.reaction.Toggle(context.Background(), member(), messageID, "fire")
	requireCode(t, err, "INVALID_REACTION_TYPE", 400)

	f.messages.On("GetMessage", mock.Anything, messageID).Return(nil, repositories.ErrMessageNotFound).Once()
	_, err = f.reaction.Toggle(context.Background(), member(), messageID, "heart")
	requireCode(t, err, "MESSAGE_NOT_FOUND", 404)

	f.messages.On("GetMessage", mock.Anything, messageID).Return(storedMessage(messageID, user2, baseTime), nil).Once()
	f.groups.On("IsMember", mock.Anything, groupID, outsider).Return(false, nil)
	_, err = f.reaction.Toggle(context.Background(), stranger(), messageID, "heart")
	requireCode(t, err, "GROUP_ACCESS_DENIED", 403)

	private := storedMessage(messageID, user2, baseTime)
	private.ChatType = models.ChatTypePrivate
	f.messages.On("GetMessage", mock.Anything, messageID).Return(private, nil).Once()
	_, err = f.reaction.Toggle(context.Background(), member(), messageID, "heart")
	requireCode(t, err, "MESSAGE_ACCESS_DENIED", 403)

	f.messages.AssertNotCalled(t, "UpdateReactions", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClearReactionsIsAdminOnlyAndAudited(t *testing.T) {
	f := newFixture(t)
	_, err := f.reaction.ClearReactions(context.Background(), member(), messageID)
	requireCode(t, err, "ADMIN_REQUIRED", 403)

	msg := storedMessage(messageID, user2, baseTime)
	msg.Reactions = models.Reactions{{Type: "heart", Users: []string{user1, user2}, Count: 2, CreatedAt: baseTime}}
	f.messages.On("GetMessage", mock.Anything, messageID).Return(msg, nil)
	f.messages.On("UpdateReactions", mock.Anything, messageID, models.Reactions{}, int64(1), mock.Anything).Return(nil)
	f.audit.On("AppendAudit", mock.Anything, mock.MatchedBy(func(e models.AuditEntry) bool {
		return e.Action == "reactions_clear" && e.TargetID == messageID && e.AdminID == adminID
	})).Return(nil)

	out, err := f.reaction.ClearReactions(context.Background(), admin(), messageID)
	require.NoError(t, err)
	assert.Empty(t, out.Reactions)
	f.audit.AssertExpectations(t)
}
