// Package events provides event bus abstractions for the trainee
// notification service. It supports publishing and subscribing to domain
// events using RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

// Inbound queue families the engine listens to, and the events it
// broadcasts once a notification has been actioned.
const (
	EventTypeProgrammeMembershipUpdated EventType = "programme-membership-event"
	EventTypeProgrammeMembershipDeleted EventType = "programme-membership-deleted-event"
	EventTypePlacementUpdated           EventType = "placement-event"
	EventTypePlacementDeleted           EventType = "placement-deleted-event"
	EventTypeLTFTUpdated                EventType = "ltft-event"
	EventTypeCojConfirmed               EventType = "coj-received-event"
	EventTypeFormUpdated                EventType = "form-updated-event"
	EventTypeGmcUpdated                 EventType = "gmc-updated-event"
	EventTypeAccountCreated             EventType = "account-confirmation-event"
	EventTypeMailFeedback               EventType = "mail-feedback-event"

	// Broadcast once a notification has actually been sent or has failed,
	// for downstream consumers (e.g. analytics) to react to.
	EventTypeNotificationSent   EventType = "notification.sent"
	EventTypeNotificationFailed EventType = "notification.failed"
)

// Event represents a domain event.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	AggregateID string                 `json:"aggregate_id"`
	Version     int                    `json:"version"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data"`
	Metadata    map[string]string      `json:"metadata,omitempty"`
}

// NewEvent creates a new event.
func NewEvent(eventType EventType, aggregateID string, data map[string]interface{}) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		AggregateID: aggregateID,
		Version:     1,
		Timestamp:   time.Now().UTC(),
		Data:        data,
		Metadata:    make(map[string]string),
	}
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// WithVersion sets the event version.
func (e *Event) WithVersion(version int) *Event {
	e.Version = version
	return e
}

// Marshal serializes the event to JSON.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes an event from JSON.
func Unmarshal(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &event, nil
}

// Publisher defines the interface for publishing events.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	PublishBatch(ctx context.Context, events []*Event) error
	Close() error
}

// Subscriber defines the interface for subscribing to events.
type Subscriber interface {
	Subscribe(ctx context.Context, eventTypes []EventType, handler Handler) error
	Unsubscribe() error
	Close() error
}

// Handler is a function that handles an event.
type Handler func(ctx context.Context, event *Event) error

// EventBus combines Publisher and Subscriber interfaces.
type EventBus interface {
	Publisher
	Subscriber
}

// Middleware defines event middleware for cross-cutting concerns.
type Middleware func(Handler) Handler

// WithRetry creates a middleware that retries failed event handling.
func WithRetry(maxRetries int, delay time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, event *Event) error {
			var lastErr error
			for i := 0; i <= maxRetries; i++ {
				if err := next(ctx, event); err != nil {
					lastErr = err
					if i < maxRetries {
						time.Sleep(delay * time.Duration(i+1))
					}
					continue
				}
				return nil
			}
			return fmt.Errorf("max retries exceeded: %w", lastErr)
		}
	}
}

// ChainMiddleware chains multiple middleware together.
func ChainMiddleware(handler Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
