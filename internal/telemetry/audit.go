package telemetry

import (
	"context"
	"log/slog"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Moderation actions recorded in the audit log.
const (
	ActionRoomLocked      = "room_locked"
	ActionRoomUnlocked    = "room_unlocked"
	ActionCodeRegenerated = "code_regenerated"
	ActionMessagePinned   = "message_pinned"
	ActionMessageUnpinned = "message_unpinned"
	ActionMessageDeleted  = "message_deleted"
	ActionFakeInjected    = "fake_injected"
	ActionRoomCleared     = "room_cleared"
)

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *slog.Logger
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

// Name identifies the envelope in publisher logs.
func (e AuditEnvelope) Name() string {
	return e.EventType + "." + e.Payload.Action
}

type AuditPayload struct {
	Level     string `json:"level"`
	Action    string `json:"action"`
	RoomID    string `json:"room_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
}

// AuditRecord is one moderation action.
type AuditRecord struct {
	Action    string
	RoomID    string
	MessageID string
	ActorID   string
	RequestID string
	Text      string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *slog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

// Emit publishes the record. Failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, level string, record AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	var userID *string
	if record.ActorID != "" {
		actor := record.ActorID
		userID = &actor
	}
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     record.RequestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:     level,
			Action:    record.Action,
			RoomID:    record.RoomID,
			MessageID: record.MessageID,
			Text:      record.Text,
		},
	}

	e.log.Debug("audit emit", "level", level, "action", record.Action, "room_id", record.RoomID, "request_id", record.RequestID)
	headers := map[string]string{}
	if record.RequestID != "" {
		headers["x-request-id"] = record.RequestID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.log.Warn("audit publish failed", "action", record.Action, "error", err)
	}
}
