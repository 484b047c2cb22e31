package projection

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neighbourhood-chat/internal/models"
)

func strPtr(s string) *string { return &s }

func storedMessage() models.Message {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return models.Message{
		ID:               "6f1c6d8e-8a55-4a43-9d55-0c3f7d3c2c11",
		ChatID:           "0f3f1a3c-7b9e-4a57-8a8e-8f2d2b1f5e10",
		ChatType:         models.ChatTypeGroup,
		SenderID:         "4f7c2f0e-9c1b-4b6a-9a53-9d7f3a8e2a01",
		SenderName:       "Stored Name",
		Content:          "hello",
		MessageType:      "image",
		Attachments:      models.Attachments{{ID: "a1", URL: strPtr("https://cdn/x.png")}},
		Status:           models.StatusSent,
		ModerationStatus: models.ModerationActive,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

func TestProjectAliasesAreEqual(t *testing.T) {
	out := Project(Source{Message: storedMessage()})

	assert.Equal(t, out.MessageType, out.Type)
	assert.Equal(t, out.Attachments, out.Media)
	assert.Equal(t, out.CreatedAt, out.Timestamp)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, wire["type"], wire["messageType"])
	assert.Equal(t, wire["media"], wire["attachments"])
	assert.Equal(t, wire["timestamp"], wire["createdAt"])
}

func TestProjectWireKeysAreStable(t *testing.T) {
	raw, err := json.Marshal(Project(Source{Message: models.Message{ID: "m"}}))
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))

	keys := []string{
		"id", "content", "type", "messageType", "media", "attachments", "senderId", "senderName",
		"senderAvatar", "replyTo", "reactions", "isEdited", "isForwarded", "isDeleted", "isStarred",
		"forwardedFrom", "status", "moderationStatus", "createdAt", "updatedAt", "timestamp",
		"deliveredTo", "readBy", "encryption", "autoDelete",
	}
	assert.Len(t, wire, len(keys))
	for _, k := range keys {
		assert.Contains(t, wire, k)
	}
	assert.Equal(t, []any{}, wire["attachments"])
	assert.Equal(t, []any{}, wire["deliveredTo"])
	assert.Nil(t, wire["replyTo"])
	assert.Nil(t, wire["encryption"])
}

func TestProjectDefaults(t *testing.T) {
	out := Project(Source{Message: models.Message{ID: "m"}})

	assert.Equal(t, "text", out.MessageType)
	assert.Equal(t, models.StatusSent, out.Status)
	assert.Equal(t, models.ModerationActive, out.ModerationStatus)
	assert.Equal(t, "Unknown", out.SenderName)
	assert.Nil(t, out.SenderAvatar)
	assert.Empty(t, out.Reactions)
	assert.NotNil(t, out.Reactions)
}

func TestProjectSenderNamePrefersDirectory(t *testing.T) {
	msg := storedMessage()

	withUser := Project(Source{Message: msg, Sender: &models.User{FirstName: "Test", LastName: "User", ProfileImageURL: strPtr("https://cdn/a.png")}})
	assert.Equal(t, "Test User", withUser.SenderName)
	require.NotNil(t, withUser.SenderAvatar)
	assert.Equal(t, "https://cdn/a.png", *withUser.SenderAvatar)

	blankUser := Project(Source{Message: msg, Sender: &models.User{}})
	assert.Equal(t, "Stored Name", blankUser.SenderName)
}

func TestProjectAttachmentNormalization(t *testing.T) {
	out := Project(Source{Message: storedMessage()})
	require.Len(t, out.Attachments, 1)

	att := out.Attachments[0]
	assert.Equal(t, "document", att.Type)
	assert.Nil(t, att.Filename)
	assert.Nil(t, att.Size)
	assert.Equal(t, map[string]any{}, att.Metadata)
}

func TestProjectReplyFallbacks(t *testing.T) {
	msg := storedMessage()
	msg.ReplyToID = strPtr("c6a0e4a2-1df0-4c1e-9a84-3c3ddc1f4d7e")

	missing := Project(Source{Message: msg})
	require.NotNil(t, missing.ReplyTo)
	assert.Equal(t, *msg.ReplyToID, missing.ReplyTo.ID)
	assert.Nil(t, missing.ReplyTo.Content)
	assert.Equal(t, "Unknown", missing.ReplyTo.SenderName)

	reply := models.Message{ID: *msg.ReplyToID, Content: "first", SenderID: "u2", SenderName: "Old Name"}
	found := Project(Source{Message: msg, Reply: &reply, ReplySender: &models.User{FirstName: "Jane"}})
	require.NotNil(t, found.ReplyTo.Content)
	assert.Equal(t, "first", *found.ReplyTo.Content)
	assert.Equal(t, "u2", *found.ReplyTo.SenderID)
	assert.Equal(t, "Jane", found.ReplyTo.SenderName)
	assert.Equal(t, "text", *found.ReplyTo.Type)
}

func TestProjectForwardedFromOnlyWhenForwarded(t *testing.T) {
	msg := storedMessage()
	msg.ForwardedFrom = &models.ForwardInfo{MessageID: "m0", OriginalSenderID: "u0"}

	assert.Nil(t, Project(Source{Message: msg}).ForwardedFrom)

	msg.IsForwarded = true
	out := Project(Source{Message: msg})
	require.NotNil(t, out.ForwardedFrom)
	assert.Equal(t, "m0", out.ForwardedFrom.MessageID)
}

func TestProjectReactionsClampCount(t *testing.T) {
	out := ProjectReactions(models.Reactions{{Type: "heart", Count: -2}})

	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Count)
	assert.Equal(t, []string{}, out[0].Users)
	assert.Nil(t, out[0].CreatedAt)
}

func TestProjectIsDeterministic(t *testing.T) {
	src := Source{Message: storedMessage(), Sender: &models.User{FirstName: "Test", LastName: "User"}}
	a, err := json.Marshal(Project(src))
	require.NoError(t, err)
	b, err := json.Marshal(Project(src))
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}
