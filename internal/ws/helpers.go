package ws

import "neighbourhood-chat/internal/ids"

const (
	groupRoomPrefix = "group_"
	userRoomPrefix  = "user_"
)

// GroupRoom names the room of a group's members.
func GroupRoom(groupID string) string {
	return groupRoomPrefix + groupID
}

// UserRoom names a user's private room.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

func newConnID() string {
	return ids.New()
}
