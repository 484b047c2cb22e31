package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/observability"
)

const redisChannel = "chat:rooms"

var ErrHubStopped = errors.New("hub stopped")

// Frame is the envelope of every server-to-client event.
type Frame struct {
	Event string `json:"event"`
	Room  string `json:"room"`
	Data  any    `json:"data"`
}

// Broadcaster is the only way other components reach the hub.
type Broadcaster interface {
	Publish(ctx context.Context, room, event string, data any) error
}

type outbound struct {
	room    string
	event   string
	payload []byte
}

type directMessage struct {
	client  *Client
	payload []byte
}

type subscription struct {
	client *Client
	room   string
	join   bool
}

type redisEnvelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Hub owns the room registry. Registry changes and deliveries all happen on
// the run loop, so rooms see events in publish order.
type Hub struct {
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]map[string]struct{}

	register    chan *Client
	unregister  chan *Client
	membership  chan subscription
	broadcast   chan outbound
	directs     chan directMessage
	inspections chan func()

	redisClient *redis.Client
	instanceID  string

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	started   atomic.Bool
	stopped   chan struct{}
}

// NewHub creates a hub. A non-nil redis client relays events between instances.
func NewHub(redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		clients:     make(map[*Client]map[string]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		membership:  make(chan subscription),
		broadcast:   make(chan outbound, 256),
		directs:     make(chan directMessage, 64),
		inspections: make(chan func()),
		redisClient: redisClient,
		instanceID:  ids.New(),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
	}
}

// Start launches the run loop and, when configured, the Redis relay.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		h.started.Store(true)
		if h.redisClient != nil {
			ready := make(chan struct{})
			go h.subscribeRedis(ready)
			<-ready
		}
		go h.run()
	})
}

// Stop ends the run loop and disconnects every client.
func (h *Hub) Stop() {
	h.cancel()
	if h.started.Load() {
		<-h.stopped
	}
}

// Register adds a client with no room subscriptions.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// Unregister removes a client from every room and closes its send queue.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a registered client to room.
func (h *Hub) Subscribe(client *Client, room string) error {
	return h.changeMembership(subscription{client: client, room: room, join: true})
}

// Unsubscribe removes a client from room.
func (h *Hub) Unsubscribe(client *Client, room string) error {
	return h.changeMembership(subscription{client: client, room: room})
}

func (h *Hub) changeMembership(s subscription) error {
	select {
	case h.membership <- s:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// Publish delivers event to every client subscribed to room, here and on
// other instances.
func (h *Hub) Publish(ctx context.Context, room, event string, data any) error {
	payload, err := json.Marshal(Frame{Event: event, Room: room, Data: data})
	if err != nil {
		return err
	}
	if err := h.enqueue(ctx, outbound{room: room, event: event, payload: payload}); err != nil {
		return err
	}
	if h.redisClient != nil {
		relay, err := json.Marshal(redisEnvelope{Origin: h.instanceID, Room: room, Event: event, Payload: payload})
		if err != nil {
			return err
		}
		if err := h.redisClient.Publish(ctx, redisChannel, relay).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) enqueue(ctx context.Context, msg outbound) error {
	if h.ctx.Err() != nil {
		return ErrHubStopped
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// direct queues payload for a single client.
func (h *Hub) direct(client *Client, payload []byte) error {
	select {
	case h.directs <- directMessage{client: client, payload: payload}:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// roomSize returns the number of clients subscribed to room.
func (h *Hub) roomSize(room string) int {
	result := make(chan int, 1)
	if !h.inspect(func() { result <- len(h.rooms[room]) }) {
		return 0
	}
	return <-result
}

// Rooms returns the rooms client is subscribed to.
func (h *Hub) Rooms(client *Client) []string {
	result := make(chan []string, 1)
	if !h.inspect(func() {
		var rooms []string
		for room := range h.clients[client] {
			rooms = append(rooms, room)
		}
		result <- rooms
	}) {
		return nil
	}
	return <-result
}

func (h *Hub) inspect(fn func()) bool {
	select {
	case h.inspections <- fn:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			if _, ok := h.clients[client]; !ok {
				h.clients[client] = make(map[string]struct{})
			}

		case client := <-h.unregister:
			h.drop(client)

		case s := <-h.membership:
			h.applyMembership(s)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case d := <-h.directs:
			if _, ok := h.clients[d.client]; ok {
				select {
				case d.client.send <- d.payload:
				default:
					h.drop(d.client)
				}
			}

		case fn := <-h.inspections:
			fn()

		case <-h.ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

func (h *Hub) applyMembership(s subscription) {
	rooms, ok := h.clients[s.client]
	if !ok {
		return
	}
	if !s.join {
		delete(rooms, s.room)
		if members, ok := h.rooms[s.room]; ok {
			delete(members, s.client)
			if len(members) == 0 {
				delete(h.rooms, s.room)
			}
		}
		return
	}
	rooms[s.room] = struct{}{}
	if h.rooms[s.room] == nil {
		h.rooms[s.room] = make(map[*Client]struct{})
	}
	h.rooms[s.room][s.client] = struct{}{}
}

func (h *Hub) deliver(msg outbound) {
	observability.IncWSEvent(msg.event)
	for client := range h.rooms[msg.room] {
		select {
		case client.send <- msg.payload:
		default:
			// a client that cannot keep up is disconnected
			logger.Get().Warn().Str("conn_id", client.info.ConnID).Str("room", msg.room).Msg("websocket send queue full")
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	rooms, ok := h.clients[client]
	if !ok {
		return
	}
	for room := range rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) subscribeRedis(ready chan<- struct{}) {
	pubsub := h.redisClient.Subscribe(h.ctx, redisChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(h.ctx); err != nil {
		logger.Get().Error().Err(err).Msg("redis room relay subscribe failed")
	}
	close(ready)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.Origin == h.instanceID {
				continue
			}
			_ = h.enqueue(h.ctx, outbound{room: env.Room, event: env.Event, payload: env.Payload})
		case <-h.ctx.Done():
			return
		}
	}
}
