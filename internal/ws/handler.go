package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/middleware"
	"neighbourhood-chat/internal/observability"
)

const lifecycleRoutingKey = "ws_events.connections"

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	hub      *Hub
	verifier middleware.Verifier
	members  MembershipChecker
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, verifier middleware.Verifier, members MembershipChecker) *Handler {
	return &Handler{hub: hub, verifier: verifier, members: members}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handle authenticates the caller, upgrades the connection, subscribes it to
// the caller's user room and runs the pumps.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("neighbourhood-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		middleware.Abort(c, apperrors.Unauthenticated(apperrors.CodeUnauthorized, "Authentication required"))
		return
	}
	p, err := h.verifier.Verify(token)
	if err != nil {
		middleware.Abort(c, apperrors.Unauthenticated(apperrors.CodeInvalidToken, "Invalid token"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      p.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	// the connection outlives the request
	connLog := logger.FromContext(ctx).With().Str("conn_id", info.ConnID).Str("user_id", p.UserID).Logger()
	connCtx := connLog.WithContext(context.WithoutCancel(ctx))

	client := NewClient(h.hub, conn, info, h.members)
	if err := h.hub.Register(client); err != nil {
		conn.Close()
		return
	}
	if err := h.hub.Subscribe(client, UserRoom(p.UserID)); err != nil {
		h.hub.Unregister(client)
		conn.Close()
		return
	}

	observability.IncWSActive()
	publishLifecycle(connCtx, "ws_connect", info, "")

	go client.WritePump()
	go func() {
		err := client.ReadPump(connCtx)
		reason := ""
		if err != nil {
			reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishLifecycle(connCtx, "ws_error", info, reason)
			}
		}
		observability.DecWSActive()
		publishLifecycle(connCtx, "ws_disconnect", info, reason)
	}()
}

func publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(event)
	err := observability.PublishEvent(ctx, lifecycleRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]any{
			"ws": map[string]any{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]any{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("event", event).Msg("websocket lifecycle publish failed")
	}
}
