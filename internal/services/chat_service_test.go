package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/repositories"
	"neighbourhood-chat/internal/ws"
)

func echoInsert(msg models.Message) models.Message {
	return msg
}

func (f *fixture) expectSendHappyPath() {
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(testGroup(), nil)
	f.users.On("GetUser", mock.Anything, user1).Return(testUser(user1, "Test", "User"), nil)
	f.messages.On("InsertGroupMessage", mock.Anything, mock.Anything).Return(echoInsert, nil)
	f.messages.On("UpdateStatus", mock.Anything, mock.Anything, models.StatusSent, mock.Anything).Return(nil)
	f.groups.On("TouchActivity", mock.Anything, groupID, mock.Anything).Return(nil)
	f.notes.On("CreateNotifications", mock.Anything, mock.Anything).Return(nil)
	f.publisher.On("Publish", mock.Anything, "notifications.message", mock.Anything).Return(nil)
}

func TestSendGroupMessageHappyPath(t *testing.T) {
	f := newFixture(t)
	f.expectSendHappyPath()

	out, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hello", Type: "text"})
	require.NoError(t, err)

	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, "text", out.Type)
	assert.Equal(t, "text", out.MessageType)
	assert.Equal(t, user1, out.SenderID)
	assert.Equal(t, "Test User", out.SenderName)
	assert.Equal(t, models.StatusSent, out.Status)
	assert.NotNil(t, out.Media)
	assert.Empty(t, out.Media)
	assert.Equal(t, out.Attachments, out.Media)
	assert.Equal(t, out.CreatedAt, out.Timestamp)

	assert.Equal(t, []string{ws.GroupRoom(groupID)}, f.hub.Rooms(EventNewMessage))
	assert.Equal(t, []string{ws.UserRoom(user1)}, f.hub.Rooms(EventMessageSent))
	assert.Equal(t, []string{ws.UserRoom(user2)}, f.hub.Rooms(EventNotificationUpdate))

	f.messages.AssertCalled(t, "InsertGroupMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.Status == models.StatusSending && m.ModerationStatus == models.ModerationActive && m.ChatType == models.ChatTypeGroup
	}))
	f.notes.AssertCalled(t, "CreateNotifications", mock.Anything, mock.MatchedBy(func(n []models.Notification) bool {
		return len(n) == 1 && n[0].RecipientID == user2 && n[0].MessageID == out.ID
	}))
	f.groups.AssertCalled(t, "TouchActivity", mock.Anything, groupID, out.CreatedAt)
}

func TestSendGroupMessageRejectsEmptyContent(t *testing.T) {
	for _, content := range []string{"", "   \n\t"} {
		f := newFixture(t)
		_, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: content, Type: "text"})

		requireCode(t, err, "EMPTY_MESSAGE_CONTENT", 400)
		assert.Empty(t, f.hub.Emissions())
		f.messages.AssertNotCalled(t, "InsertGroupMessage", mock.Anything, mock.Anything)
	}
}

func TestSendGroupMessageContentLengthCountsTrimmedCharacters(t *testing.T) {
	exact := strings.Repeat("a", models.MaxContentLength)
	multibyte := strings.Repeat("é", models.MaxContentLength)
	for name, content := range map[string]string{
		"exact":     exact,
		"padded":    "  " + exact + "\n ",
		"multibyte": multibyte,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.expectSendHappyPath()

			out, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: content})
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(content), out.Content)
		})
	}

	f := newFixture(t)
	_, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: " " + exact + "a "})
	requireCode(t, err, "VALIDATION_ERROR", 400)
	f.messages.AssertNotCalled(t, "InsertGroupMessage", mock.Anything, mock.Anything)
}

func TestSendGroupMessageShapeValidation(t *testing.T) {
	negative := int64(-1)
	cases := map[string]struct {
		in   SendMessageInput
		code string
	}{
		"too long":         {SendMessageInput{Content: strings.Repeat("a", models.MaxContentLength+1)}, "VALIDATION_ERROR"},
		"unknown type":     {SendMessageInput{Content: "hi", Type: "sticker"}, "VALIDATION_ERROR"},
		"unknown msg type": {SendMessageInput{Content: "hi", MessageType: "gif"}, "VALIDATION_ERROR"},
		"negative size":    {SendMessageInput{Content: "hi", Attachments: []AttachmentInput{{URL: strPtr("u"), Size: &negative}}}, "VALIDATION_ERROR"},
		"bare attachment":  {SendMessageInput{Content: "hi", Attachments: []AttachmentInput{{Type: "image"}}}, "INVALID_ATTACHMENT_DATA"},
		"forward not map":  {SendMessageInput{Content: "hi", IsForwarded: true, ForwardedFrom: json.RawMessage(`"m1"`)}, "VALIDATION_ERROR"},
		"forward missing":  {SendMessageInput{Content: "hi", IsForwarded: true}, "VALIDATION_ERROR"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, tc.in)
			requireCode(t, err, tc.code, 400)
			f.groups.AssertNotCalled(t, "GetGroupWithMembers", mock.Anything, mock.Anything)
		})
	}
}

func TestSendGroupMessageIdentifierValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.chat.SendGroupMessage(context.Background(), member(), "G1", SendMessageInput{Content: "hi"})
	requireCode(t, err, "INVALID_GROUP_ID", 400)

	_, err = f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hi", ReplyToID: strPtr("R0")})
	requireCode(t, err, "INVALID_REPLY_ID", 400)
}

func TestSendGroupMessageNonMemberDenied(t *testing.T) {
	f := newFixture(t)
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(testGroup(), nil)

	_, err := f.chat.SendGroupMessage(context.Background(), stranger(), groupID, SendMessageInput{Content: "hi"})

	requireCode(t, err, "GROUP_ACCESS_DENIED", 403)
	f.messages.AssertNotCalled(t, "InsertGroupMessage", mock.Anything, mock.Anything)
	assert.Empty(t, f.hub.Emissions())
}

func TestSendGroupMessageMissingOrInactiveGroupDenied(t *testing.T) {
	f := newFixture(t)
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(nil, repositories.ErrGroupNotFound).Once()
	_, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hi"})
	requireCode(t, err, "GROUP_ACCESS_DENIED", 403)

	inactive := testGroup()
	inactive.IsActive = false
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(inactive, nil).Once()
	_, err = f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hi"})
	requireCode(t, err, "GROUP_ACCESS_DENIED", 403)
}

func TestSendGroupMessageReplyMustExist(t *testing.T) {
	f := newFixture(t)
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(testGroup(), nil)
	f.users.On("GetUser", mock.Anything, user1).Return(testUser(user1, "Test", "User"), nil)
	f.messages.On("ExistsActiveInChat", mock.Anything, replyID, groupID, models.ChatTypeGroup).Return(false, nil)

	_, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "reply", ReplyToID: strPtr(replyID)})

	requireCode(t, err, "REPLY_MESSAGE_NOT_FOUND", 400)
	f.messages.AssertNotCalled(t, "InsertGroupMessage", mock.Anything, mock.Anything)
}

func TestSendGroupMessageReplyIsEnriched(t *testing.T) {
	f := newFixture(t)
	f.expectSendHappyPath()
	target := storedMessage(replyID, user2, baseTime)
	target.Content = "original"
	f.messages.On("ExistsActiveInChat", mock.Anything, replyID, groupID, models.ChatTypeGroup).Return(true, nil)
	f.messages.On("GetMessage", mock.Anything, replyID).Return(target, nil)
	f.users.On("GetUser", mock.Anything, user2).Return(testUser(user2, "Second", "Person"), nil)

	out, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "answer", ReplyToID: strPtr(replyID)})
	require.NoError(t, err)

	require.NotNil(t, out.ReplyTo)
	assert.Equal(t, replyID, out.ReplyTo.ID)
	require.NotNil(t, out.ReplyTo.Content)
	assert.Equal(t, "original", *out.ReplyTo.Content)
	assert.Equal(t, "Second Person", out.ReplyTo.SenderName)
}

func TestSendGroupMessageForwardValidity(t *testing.T) {
	f := newFixture(t)
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(testGroup(), nil)
	f.users.On("GetUser", mock.Anything, user1).Return(testUser(user1, "Test", "User"), nil)

	_, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{
		Content: "fwd", IsForwarded: true, ForwardedFrom: json.RawMessage(`{"messageId":"` + replyID + `"}`),
	})
	requireCode(t, err, "INVALID_FORWARD_DATA", 400)

	f.messages.On("ExistsActive", mock.Anything, replyID).Return(false, nil).Once()
	_, err = f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{
		Content: "fwd", IsForwarded: true,
		ForwardedFrom: json.RawMessage(`{"messageId":"` + replyID + `","originalSenderId":"` + user2 + `"}`),
	})
	requireCode(t, err, "INVALID_FORWARD_DATA", 400)
	f.messages.AssertNotCalled(t, "InsertGroupMessage", mock.Anything, mock.Anything)
}

func TestSendGroupMessageForwardIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.expectSendHappyPath()
	f.messages.On("ExistsActive", mock.Anything, replyID).Return(true, nil)

	out, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{
		Content: "fwd", IsForwarded: true,
		ForwardedFrom: json.RawMessage(`{"messageId":"` + replyID + `","originalSenderId":"` + user2 + `","originalChatName":"Elm"}`),
	})
	require.NoError(t, err)

	assert.True(t, out.IsForwarded)
	require.NotNil(t, out.ForwardedFrom)
	assert.Equal(t, replyID, out.ForwardedFrom.MessageID)
	assert.Equal(t, "Elm", out.ForwardedFrom.OriginalChatName)
	assert.Equal(t, user1, out.ForwardedFrom.ForwardedBy)
}

func TestSendGroupMessageNormalizesAttachments(t *testing.T) {
	f := newFixture(t)
	f.expectSendHappyPath()

	out, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{
		Content:     "see file",
		Attachments: []AttachmentInput{{Filename: strPtr("plan.pdf")}, {ID: "a2", Type: "image", URL: strPtr("https://x/y.png")}},
	})
	require.NoError(t, err)

	require.Len(t, out.Attachments, 2)
	assert.NotEmpty(t, out.Attachments[0].ID)
	assert.Equal(t, "document", out.Attachments[0].Type)
	assert.Equal(t, "a2", out.Attachments[1].ID)
	assert.Equal(t, "image", out.Attachments[1].Type)
	assert.Equal(t, map[string]any{}, out.Attachments[0].Metadata)
	assert.Equal(t, out.Attachments, out.Media)
}

func TestSendGroupMessageUnknownSenderFallsBack(t *testing.T) {
	f := newFixture(t)
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(testGroup(), nil)
	f.users.On("GetUser", mock.Anything, user1).Return(nil, repositories.ErrUserNotFound)
	f.messages.On("InsertGroupMessage", mock.Anything, mock.Anything).Return(echoInsert, nil)
	f.messages.On("UpdateStatus", mock.Anything, mock.Anything, models.StatusSent, mock.Anything).Return(nil)
	f.groups.On("TouchActivity", mock.Anything, groupID, mock.Anything).Return(nil)
	f.notes.On("CreateNotifications", mock.Anything, mock.Anything).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	out, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown", out.SenderName)
}

func TestSendGroupMessageSideEffectFailuresAreNotSurfaced(t *testing.T) {
	f := newFixture(t)
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(testGroup(), nil)
	f.users.On("GetUser", mock.Anything, user1).Return(testUser(user1, "Test", "User"), nil)
	f.messages.On("InsertGroupMessage", mock.Anything, mock.Anything).Return(echoInsert, nil)
	f.messages.On("UpdateStatus", mock.Anything, mock.Anything, models.StatusSent, mock.Anything).Return(nil)
	f.groups.On("TouchActivity", mock.Anything, groupID, mock.Anything).Return(errors.New("activity down"))
	f.notes.On("CreateNotifications", mock.Anything, mock.Anything).Return(errors.New("notifications down"))
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	out, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, out.Status)
	assert.Equal(t, []string{ws.GroupRoom(groupID)}, f.hub.Rooms(EventNewMessage))
	assert.Equal(t, []string{ws.UserRoom(user2)}, f.hub.Rooms(EventNotificationUpdate))
}

func TestSendGroupMessageStaysSendingWhenStatusFlipFails(t *testing.T) {
	f := newFixture(t)
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(testGroup(), nil)
	f.users.On("GetUser", mock.Anything, user1).Return(testUser(user1, "Test", "User"), nil)
	f.messages.On("InsertGroupMessage", mock.Anything, mock.Anything).Return(echoInsert, nil)
	f.messages.On("UpdateStatus", mock.Anything, mock.Anything, models.StatusSent, mock.Anything).Return(errors.New("boom"))
	f.groups.On("TouchActivity", mock.Anything, groupID, mock.Anything).Return(nil)
	f.notes.On("CreateNotifications", mock.Anything, mock.Anything).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	out, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSending, out.Status)
}

func TestSendGroupMessageEmissionFollowsCommitOrder(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var committed []string
	f.groups.On("GetGroupWithMembers", mock.Anything, groupID).Return(testGroup(), nil)
	f.users.On("GetUser", mock.Anything, user1).Return(testUser(user1, "Test", "User"), nil)
	f.messages.On("InsertGroupMessage", mock.Anything, mock.Anything).Return(func(m models.Message) models.Message {
		mu.Lock()
		committed = append(committed, m.ID)
		mu.Unlock()
		return m
	}, nil)
	f.messages.On("UpdateStatus", mock.Anything, mock.Anything, models.StatusSent, mock.Anything).Return(nil)
	f.groups.On("TouchActivity", mock.Anything, groupID, mock.Anything).Return(nil)
	f.notes.On("CreateNotifications", mock.Anything, mock.Anything).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for n := 0; n < 16; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var emitted []string
	for _, e := range f.hub.Emissions() {
		if e.Event == EventNewMessage {
			emitted = append(emitted, messageIDOf(t, e.Data))
		}
	}
	assert.Equal(t, committed, emitted)
}

func TestFetchGroupMessagesOldestFirstWithEnrichment(t *testing.T) {
	f := newFixture(t)
	m1 := storedMessage("7a1e5b44-3c2d-4e8f-9a10-1b2c3d4e5f01", user1, baseTime)
	m2 := storedMessage("7a1e5b44-3c2d-4e8f-9a10-1b2c3d4e5f02", user2, baseTime.Add(1e9))
	m3 := storedMessage("7a1e5b44-3c2d-4e8f-9a10-1b2c3d4e5f03", user1, baseTime.Add(2e9))
	m3.ReplyToID = &m2.ID

	f.groups.On("IsMember", mock.Anything, groupID, user1).Return(true, nil)
	f.messages.On("ListGroupMessages", mock.Anything, models.MessageQuery{ChatID: groupID, Limit: 50}).Return([]models.Message{m3, m2, m1}, nil)
	f.messages.On("GetMessages", mock.Anything, []string{m2.ID}).Return([]models.Message{m2}, nil)
	f.users.On("GetUsers", mock.Anything, []string{user1, user2}).Return([]models.User{
		testUser(user1, "Test", "User"), testUser(user2, "Second", "Person"),
	}, nil)

	out, err := f.chat.FetchGroupMessages(context.Background(), member(), groupID, FetchQuery{Limit: DefaultFetchLimit})
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, "Second Person", out[1].SenderName)
	require.NotNil(t, out[2].ReplyTo)
	assert.Equal(t, "Second Person", out[2].ReplyTo.SenderName)
	for _, m := range out {
		assert.Equal(t, m.Type, m.MessageType)
		assert.Equal(t, m.CreatedAt, m.Timestamp)
	}
}

func TestFetchGroupMessagesValidationAndAccess(t *testing.T) {
	f := newFixture(t)
	_, err := f.chat.FetchGroupMessages(context.Background(), member(), groupID, FetchQuery{Limit: 0})
	requireCode(t, err, "VALIDATION_ERROR", 400)
	_, err = f.chat.FetchGroupMessages(context.Background(), member(), groupID, FetchQuery{Limit: 101})
	requireCode(t, err, "VALIDATION_ERROR", 400)
	_, err = f.chat.FetchGroupMessages(context.Background(), member(), groupID, FetchQuery{Limit: 10, Offset: -1})
	requireCode(t, err, "VALIDATION_ERROR", 400)
	_, err = f.chat.FetchGroupMessages(context.Background(), member(), "G1", FetchQuery{Limit: 10})
	requireCode(t, err, "INVALID_GROUP_ID", 400)

	f.groups.On("IsMember", mock.Anything, groupID, outsider).Return(false, nil)
	_, err = f.chat.FetchGroupMessages(context.Background(), stranger(), groupID, FetchQuery{Limit: 10})
	requireCode(t, err, "GROUP_ACCESS_DENIED", 403)
	f.messages.AssertNotCalled(t, "ListGroupMessages", mock.Anything, mock.Anything)
}

func TestSendThenFetchRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.expectSendHappyPath()

	sent, err := f.chat.SendGroupMessage(context.Background(), member(), groupID, SendMessageInput{Content: "hello"})
	require.NoError(t, err)

	stored := f.messages.Calls[0].Arguments.Get(1).(models.Message)
	stored.Status = models.StatusSent
	f.groups.On("IsMember", mock.Anything, groupID, user1).Return(true, nil)
	f.messages.On("ListGroupMessages", mock.Anything, mock.Anything).Return([]models.Message{stored}, nil)
	f.users.On("GetUsers", mock.Anything, []string{user1}).Return([]models.User{testUser(user1, "Test", "User")}, nil)

	fetched, err := f.chat.FetchGroupMessages(context.Background(), member(), groupID, FetchQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, sent, fetched[0])
}

func messageIDOf(t *testing.T, data any) string {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var v struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &v))
	return v.ID
}
