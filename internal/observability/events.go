package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Publisher is the subset of the AMQP publisher used for lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// EventEnvelope wraps every lifecycle event sent to the bus.
type EventEnvelope struct {
	EventType  string `json:"event_type"`
	EventName  string `json:"event_name"`
	OccurredAt string `json:"occurred_at"`
	Payload    any    `json:"payload"`
}

// Name identifies the event in logs.
func (e EventEnvelope) Name() string {
	return e.EventType + "." + e.EventName
}

// EventPublisher sends lifecycle events and counts publish failures.
// A nil EventPublisher drops everything.
type EventPublisher struct {
	publisher Publisher
	log       *slog.Logger
}

func NewEventPublisher(publisher Publisher, log *slog.Logger) *EventPublisher {
	return &EventPublisher{publisher: publisher, log: log}
}

// PublishEvent wraps payload in an envelope and publishes it under routingKey.
func (p *EventPublisher) PublishEvent(ctx context.Context, routingKey, eventType, eventName string, payload any, headers map[string]string) error {
	if p == nil || p.publisher == nil {
		return nil
	}

	envelope := EventEnvelope{
		EventType:  eventType,
		EventName:  eventName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
	if err := p.publisher.Publish(ctx, routingKey, envelope, headers); err != nil {
		IncAMQPPublishError()
		p.log.Warn("event publish failed", "routing_key", routingKey, "event", envelope.Name(), "error", err)
		return err
	}
	return nil
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// TraceIDFromContext returns the active trace id, or "" outside a span.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
