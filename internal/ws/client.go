package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256

	EventJoinGroup   = "join_group"
	EventLeaveGroup  = "leave_group"
	EventJoinedGroup = "joined_group"
	EventLeftGroup   = "left_group"
	EventError       = "error"
)

// MembershipChecker gates client-initiated room joins.
type MembershipChecker interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// ConnInfo identifies a connection in logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Client is one websocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	info    ConnInfo
	members MembershipChecker
}

type inbound struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// NewClient wraps conn. conn may be nil for in-process clients.
func NewClient(hub *Hub, conn *websocket.Conn, info ConnInfo, members MembershipChecker) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		info:    info,
		members: members,
	}
}

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo {
	return c.info
}

// Messages exposes the outgoing queue; it is closed when the hub drops the client.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// ReadPump consumes client frames until the connection fails and returns the
// error that ended it.
func (c *Client) ReadPump(ctx context.Context) error {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		c.HandleFrame(ctx, raw)
	}
}

// WritePump drains the send queue to the socket and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleFrame processes one client frame.
func (c *Client) HandleFrame(ctx context.Context, raw []byte) {
	var frame inbound
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reply(EventError, "", map[string]string{"message": "malformed frame"})
		return
	}

	switch frame.Event {
	case EventJoinGroup:
		groupID := strings.TrimSpace(frame.Data)
		if !ids.Valid(groupID) {
			c.reply(EventError, "", map[string]string{"message": "invalid group id", "groupId": groupID})
			return
		}
		member, err := c.members.IsMember(ctx, groupID, c.info.UserID)
		if err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("group_id", groupID).Msg("websocket membership check failed")
			c.reply(EventError, "", map[string]string{"message": "membership check failed", "groupId": groupID})
			return
		}
		if !member {
			c.reply(EventError, "", map[string]string{"message": "not a member of this group", "groupId": groupID})
			return
		}
		room := GroupRoom(groupID)
		if err := c.hub.Subscribe(c, room); err != nil {
			return
		}
		c.reply(EventJoinedGroup, room, map[string]string{"groupId": groupID})

	case EventLeaveGroup:
		groupID := strings.TrimSpace(frame.Data)
		room := GroupRoom(groupID)
		if err := c.hub.Unsubscribe(c, room); err != nil {
			return
		}
		c.reply(EventLeftGroup, room, map[string]string{"groupId": groupID})

	default:
		c.reply(EventError, "", map[string]string{"message": "unknown event", "event": frame.Event})
	}
}

// reply is delivered through the hub so it is ordered with room events.
func (c *Client) reply(event, room string, data any) {
	payload, err := json.Marshal(Frame{Event: event, Room: room, Data: data})
	if err != nil {
		return
	}
	_ = c.hub.direct(c, payload)
}
