// Package domain contains the domain layer for the trainee notification
// orchestration engine: entities, value objects, and domain events covering
// scheduled and immediate notifications sent to trainees over email and
// in-app channels.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is the base interface for all domain events.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() string
	AggregateType() string
	Version() int
}

// BaseDomainEvent provides common fields for domain events.
type BaseDomainEvent struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	AggrID   string    `json:"aggregateId"`
	AggrType string    `json:"aggregateType"`
	Occurred time.Time `json:"occurredAt"`
	Ver      int       `json:"version"`
}

// EventID returns the event ID.
func (e BaseDomainEvent) EventID() uuid.UUID {
	return e.ID
}

// EventType returns the event type.
func (e BaseDomainEvent) EventType() string {
	return e.Type
}

// OccurredAt returns when the event occurred.
func (e BaseDomainEvent) OccurredAt() time.Time {
	return e.Occurred
}

// AggregateID returns the aggregate ID.
func (e BaseDomainEvent) AggregateID() string {
	return e.AggrID
}

// AggregateType returns the aggregate type.
func (e BaseDomainEvent) AggregateType() string {
	return e.AggrType
}

// Version returns the event version.
func (e BaseDomainEvent) Version() int {
	return e.Ver
}

// NewBaseDomainEvent creates a new base domain event.
func NewBaseDomainEvent(eventType, aggregateType, aggregateID string, version int) BaseDomainEvent {
	return BaseDomainEvent{
		ID:       uuid.New(),
		Type:     eventType,
		AggrID:   aggregateID,
		AggrType: aggregateType,
		Occurred: time.Now().UTC(),
		Ver:      version,
	}
}
