package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diaguru/diaguru/internal/shared/domain"
)

// Envelope is the wire format for domain events.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	RoutingKey    string          `json:"routing_key"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// DomainPublisher wraps a raw Publisher and marshals domain events into
// envelopes keyed by the event's routing key.
type DomainPublisher struct {
	publisher Publisher
}

// NewDomainPublisher creates a domain event publisher.
func NewDomainPublisher(publisher Publisher) *DomainPublisher {
	return &DomainPublisher{publisher: publisher}
}

// Publish marshals and sends one domain event.
func (p *DomainPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	envelope := Envelope{
		EventID:       event.EventID(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		RoutingKey:    event.RoutingKey(),
		OccurredAt:    event.OccurredAt(),
		Payload:       payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	return p.publisher.Publish(ctx, event.RoutingKey(), body)
}

// Close closes the underlying publisher.
func (p *DomainPublisher) Close() error {
	return p.publisher.Close()
}
