package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"neighbourhood-chat/internal/dataaccess"
	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/middleware"
	"neighbourhood-chat/internal/mocks"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/postcommit"
	"neighbourhood-chat/internal/principal"
	"neighbourhood-chat/internal/services"
)

const (
	groupID   = "0f3f1a3c-7b9e-4a57-8a8e-8f2d2b1f5e10"
	otherGrp  = "0f3f1a3c-7b9e-4a57-8a8e-8f2d2b1f5e20"
	user1     = "4f7c2f0e-9c1b-4b6a-9a53-9d7f3a8e2a01"
	user2     = "4f7c2f0e-9c1b-4b6a-9a53-9d7f3a8e2a02"
	user9     = "4f7c2f0e-9c1b-4b6a-9a53-9d7f3a8e2a09"
	adminID   = "9d8c7b6a-5e4f-4a3b-8c2d-1e0f9a8b7c60"
	messageID = "7a1e5b44-3c2d-4e8f-9a10-1b2c3d4e5f60"
	missingID = "7a1e5b44-3c2d-4e8f-9a10-1b2c3d4e5f99"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type env struct {
	groups     *mocks.GroupRepositoryMock
	messages   *mocks.MessageRepositoryMock
	users      *mocks.UserRepositoryMock
	notes      *mocks.NotificationRepositoryMock
	audit      *mocks.AuditRepositoryMock
	moderation *mocks.ModerationRepositoryMock
	publisher  *mocks.PublisherMock
	hub        *mocks.RecordingBroadcaster

	chat      *ChatHandler
	group     *GroupHandler
	moderator *ModerationHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		groups:     new(mocks.GroupRepositoryMock),
		messages:   new(mocks.MessageRepositoryMock),
		users:      new(mocks.UserRepositoryMock),
		notes:      new(mocks.NotificationRepositoryMock),
		audit:      new(mocks.AuditRepositoryMock),
		moderation: new(mocks.ModerationRepositoryMock),
		publisher:  new(mocks.PublisherMock),
		hub:        &mocks.RecordingBroadcaster{},
	}

	exec := dataaccess.NewExecutor(dataaccess.Policy{InitialBackoff: time.Millisecond})
	tick := baseTime
	clock := ids.NewClockFunc(func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	})

	notifier := services.NewNotificationEmitter(e.notes, e.hub, e.publisher, exec, clock)
	chat := services.NewChatService(services.ChatDeps{
		Groups:     e.groups,
		Messages:   e.messages,
		Users:      e.users,
		Hub:        e.hub,
		Notifier:   notifier,
		Dispatcher: postcommit.NewInline(time.Second),
		Exec:       exec,
		Clock:      clock,
	})
	moderation := services.NewModerationService(e.moderation, e.messages, e.groups, e.audit, nil, exec, clock)

	e.chat = NewChatHandler(chat, services.NewReactionService(e.groups, e.messages, e.audit, exec, clock), moderation)
	e.group = NewGroupHandler(services.NewGroupService(e.groups, e.messages, e.users, chat, exec, clock), nil)
	e.moderator = NewModerationHandler(moderation)
	return e
}

func (e *env) router(p principal.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if p.UserID != "" {
			middleware.SetPrincipal(c, p)
		}
		c.Next()
	})

	api := r.Group("/api/chat")
	api.GET("/groups", e.group.ListGroups)
	api.POST("/groups", e.group.CreateGroup)
	api.GET("/groups/:id/messages", e.chat.GetGroupMessages)
	api.POST("/groups/:id/messages", e.chat.PostGroupMessage)
	api.POST("/groups/:id/join", e.group.JoinGroup)
	api.POST("/groups/:id/leave", e.group.LeaveGroup)
	api.GET("/groups/:id/members", e.group.ListMembers)
	api.POST("/messages/:id/react", e.chat.ToggleReaction)
	api.DELETE("/messages/:id/reactions", e.chat.ClearReactions)
	api.POST("/messages/:id/report", e.chat.ReportMessage)

	mod := r.Group("/api/moderation", middleware.RequireAdmin())
	mod.GET("/flagged", e.moderator.ListFlagged)
	for _, action := range []string{models.ActionApprove, models.ActionArchive, models.ActionRemove} {
		mod.POST("/:contentType/:id/"+action, e.moderator.Moderate(action))
	}
	mod.GET("/:contentType/:id/audit", e.moderator.AuditHistory)
	return r
}

func asUser(id string) principal.Principal {
	return principal.Principal{UserID: id, Role: principal.RoleUser}
}

func asAdmin() principal.Principal {
	return principal.Principal{UserID: adminID, Role: principal.RoleAdmin}
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireErrorBody(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	require.Equal(t, code, body["code"])
	require.NotEmpty(t, body["message"])
	require.NotEmpty(t, body["timestamp"])
	_, hasDebug := body["debug"]
	require.False(t, hasDebug)
}

func groupG1() models.GroupWithMembers {
	return models.GroupWithMembers{
		Group: models.Group{
			ID:              groupID,
			NeighbourhoodID: "nb-1",
			Name:            "G1",
			Type:            models.GroupTypePublic,
			CreatedBy:       user1,
			CreatedAt:       baseTime,
			LastActivity:    baseTime,
			IsActive:        true,
		},
		Members: []models.GroupMember{
			{GroupID: groupID, UserID: user1, Role: models.MemberRoleAdmin, JoinedAt: baseTime},
			{GroupID: groupID, UserID: user2, Role: models.MemberRoleMember, JoinedAt: baseTime.Add(time.Minute)},
		},
	}
}

func storedMessage(id, sender string) models.Message {
	return models.Message{
		ID:               id,
		ChatID:           groupID,
		ChatType:         models.ChatTypeGroup,
		SenderID:         sender,
		SenderName:       "Stored Name",
		Content:          "stored",
		MessageType:      "text",
		Attachments:      models.Attachments{},
		Reactions:        models.Reactions{},
		Status:           models.StatusSent,
		ModerationStatus: models.ModerationActive,
		Version:          1,
		CreatedAt:        baseTime,
		UpdatedAt:        baseTime,
	}
}
