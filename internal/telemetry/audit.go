package telemetry

import (
	"context"
	"time"

	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter streams administrative actions to the broker. It complements
// the durable audit table and never fails the caller.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level      string `json:"level"`
	Action     string `json:"action"`
	TargetType string `json:"target_type,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	Text       string `json:"text"`
}

// AuditRecord describes one action to stream.
type AuditRecord struct {
	Level      string
	Action     string
	TargetType string
	TargetID   string
	Text       string
	UserID     string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes rec. A nil emitter is a no-op.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = "INFO"
	}

	requestID := observability.RequestID(ctx)
	var userID *string
	if rec.UserID != "" {
		userID = &rec.UserID
	}
	log := logger.FromContext(ctx)
	log.Debug().
		Str("action", rec.Action).
		Str("target_type", rec.TargetType).
		Str("target_id", rec.TargetID).
		Msg("audit emit")

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:      rec.Level,
			Action:     rec.Action,
			TargetType: rec.TargetType,
			TargetID:   rec.TargetID,
			Text:       rec.Text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		observability.IncAMQPPublishError()
		log.Warn().Err(err).Str("action", rec.Action).Msg("audit publish failed")
	}
}
