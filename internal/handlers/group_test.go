package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/repositories"
)

func TestCreateGroupSuccess(t *testing.T) {
	e := newEnv(t)
	nb := "nb-1"
	e.users.On("GetUser", mock.Anything, user1).Return(models.User{ID: user1, FirstName: "Test", LastName: "User", NeighbourhoodID: &nb}, nil)
	e.groups.On("NameTaken", mock.Anything, nb, "Oak Street").Return(false, nil)
	e.groups.On("CreateGroup", mock.Anything, mock.Anything).Return(groupG1().Group, nil)

	rec := do(t, e.router(asUser(user1)), http.MethodPost, "/api/chat/groups", `{"name":"Oak Street","description":"corner shop chat"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, groupID, body["id"])
	assert.Equal(t, "admin", body["memberRole"])
	assert.EqualValues(t, 1, body["memberCount"])
	e.groups.AssertExpectations(t)
}

func TestCreateGroupInvalidBody(t *testing.T) {
	e := newEnv(t)

	rec := do(t, e.router(asUser(user1)), http.MethodPost, "/api/chat/groups", `{"name":5}`)
	requireErrorBody(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")

	rec = do(t, e.router(asUser(user1)), http.MethodPost, "/api/chat/groups", `{"name":"x"}`)
	requireErrorBody(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	body := decode[map[string]any](t, rec)
	assert.NotEmpty(t, body["details"])
}

func TestCreateGroupDuplicateName(t *testing.T) {
	e := newEnv(t)
	nb := "nb-1"
	e.users.On("GetUser", mock.Anything, user1).Return(models.User{ID: user1, NeighbourhoodID: &nb}, nil)
	e.groups.On("NameTaken", mock.Anything, nb, "Oak Street").Return(true, nil)

	rec := do(t, e.router(asUser(user1)), http.MethodPost, "/api/chat/groups", `{"name":"Oak Street"}`)
	requireErrorBody(t, rec, http.StatusBadRequest, "DUPLICATE_GROUP_NAME")
}

func TestListGroups(t *testing.T) {
	e := newEnv(t)
	e.groups.On("ListGroupsForUser", mock.Anything, user1).Return([]models.GroupMembership{
		{Group: groupG1().Group, MemberRole: models.MemberRoleAdmin},
	}, nil)
	e.groups.On("CountMembers", mock.Anything, groupID).Return(2, nil)
	e.messages.On("CountActive", mock.Anything, groupID).Return(0, nil)
	e.messages.On("LatestActive", mock.Anything, groupID).Return(nil, nil)

	rec := do(t, e.router(asUser(user1)), http.MethodGet, "/api/chat/groups", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[[]map[string]any](t, rec)
	require.Len(t, body, 1)
	assert.Equal(t, "G1", body[0]["name"])
	assert.EqualValues(t, 2, body[0]["memberCount"])
	assert.Nil(t, body[0]["lastMessage"])
}

func TestJoinAndLeaveGroup(t *testing.T) {
	e := newEnv(t)
	e.groups.On("GetGroup", mock.Anything, groupID).Return(groupG1().Group, nil)
	e.groups.On("IsMember", mock.Anything, groupID, user9).Return(false, nil).Once()
	e.groups.On("IsMember", mock.Anything, groupID, user9).Return(true, nil).Once()
	e.groups.On("AddMember", mock.Anything, groupID, user9, models.MemberRoleMember, mock.Anything).Return(nil).Once()
	e.groups.On("RemoveMember", mock.Anything, groupID, user9).Return(repositories.LeaveOutcome{Remaining: 2}, nil).Once()
	e.groups.On("RemoveMember", mock.Anything, groupID, user9).Return(nil, repositories.ErrNotMember).Once()

	router := e.router(asUser(user9))
	rec := do(t, router, http.MethodPost, "/api/chat/groups/"+groupID+"/join", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/chat/groups/"+groupID+"/join", "")
	requireErrorBody(t, rec, http.StatusBadRequest, "ALREADY_MEMBER")
	e.groups.AssertNumberOfCalls(t, "AddMember", 1)

	rec = do(t, router, http.MethodPost, "/api/chat/groups/"+groupID+"/leave", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, body["remainingMembers"])
	assert.Equal(t, false, body["groupDeactivated"])

	rec = do(t, router, http.MethodPost, "/api/chat/groups/"+groupID+"/leave", "")
	requireErrorBody(t, rec, http.StatusNotFound, "NOT_A_MEMBER")
}

func TestJoinMissingGroup(t *testing.T) {
	e := newEnv(t)
	e.groups.On("GetGroup", mock.Anything, groupID).Return(nil, repositories.ErrGroupNotFound)

	rec := do(t, e.router(asUser(user9)), http.MethodPost, "/api/chat/groups/"+groupID+"/join", "")
	requireErrorBody(t, rec, http.StatusNotFound, "GROUP_NOT_FOUND")
}

func TestListMembersForbiddenToOutsiders(t *testing.T) {
	e := newEnv(t)
	e.groups.On("IsMember", mock.Anything, groupID, user9).Return(false, nil)

	rec := do(t, e.router(asUser(user9)), http.MethodGet, "/api/chat/groups/"+groupID+"/members", "")
	requireErrorBody(t, rec, http.StatusForbidden, "GROUP_ACCESS_DENIED")
}
