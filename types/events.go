package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eventcrew/eventcrew-backend/errors"
)

type EventType string

const (
	CategoryParticipation = "PARTICIPATION"
	CategoryEvent         = "EVENT"
	CategoryNotification  = "NOTIFICATION"
)

const (
	// Participation request events
	EventTypeParticipationRequested EventType = CategoryParticipation + "_REQUESTED"
	EventTypeParticipationAccepted  EventType = CategoryParticipation + "_ACCEPTED"
	EventTypeParticipationRejected  EventType = CategoryParticipation + "_REJECTED"

	// Social event lifecycle
	EventTypeEventUpdated   EventType = CategoryEvent + "_UPDATED"
	EventTypeEventCancelled EventType = CategoryEvent + "_CANCELLED"

	// Emitted once a notification record has been persisted
	EventTypeNotificationCreated EventType = CategoryNotification + "_CREATED"
)

// DomainEventScope is the pub/sub scope domain events are published under.
const DomainEventScope = "domain"

// Base event interface
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ScopeID   string    `json:"scopeId"`
	UserID    string    `json:"userId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
}

// EventMetadata for tracking and debugging
type EventMetadata struct {
	CorrelationID string            `json:"correlationId,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	Source        string            `json:"source"`
	Tags          map[string]string `json:"tags,omitempty"`
}

type Event struct {
	BaseEvent
	Metadata EventMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

func (e Event) Validate() error {
	if e.ID == "" {
		return errors.ValidationFailed("invalid event", "event ID is required")
	}
	if e.Type == "" {
		return errors.ValidationFailed("invalid event", "event type is required")
	}
	if e.ScopeID == "" {
		return errors.ValidationFailed("invalid event", "scope ID is required")
	}
	if e.Timestamp.IsZero() {
		return errors.ValidationFailed("invalid event", "timestamp is required")
	}
	return nil
}

// EventPublisher publishes and fans out events per scope.
type EventPublisher interface {
	Publish(ctx context.Context, scopeID string, event Event) error
	PublishBatch(ctx context.Context, scopeID string, events []Event) error
	Subscribe(ctx context.Context, scopeID string, subscriberID string, filters ...EventType) (<-chan Event, error)
	Unsubscribe(ctx context.Context, scopeID string, subscriberID string) error
}

// EventHandler for processing events
type EventHandler interface {
	HandleEvent(ctx context.Context, event Event) error
	SupportedEvents() []EventType
}

// ParticipationEventPayload is carried by the PARTICIPATION_* events.
type ParticipationEventPayload struct {
	RequestID     string `json:"requestId"`
	EventID       string `json:"eventId"`
	EventTitle    string `json:"eventTitle"`
	OwnerID       string `json:"ownerId"`
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
	OwnerName     string `json:"ownerName,omitempty"`
}

// EventChangedPayload is carried by EVENT_UPDATED and EVENT_CANCELLED.
type EventChangedPayload struct {
	EventID        string   `json:"eventId"`
	EventTitle     string   `json:"eventTitle"`
	ActorID        string   `json:"actorId"`
	ActorName      string   `json:"actorName"`
	ParticipantIDs []string `json:"participantIds"`
	ChangedFields  []string `json:"changedFields,omitempty"`
}

// NotificationCreatedEvent is the payload of NOTIFICATION_CREATED.
type NotificationCreatedEvent struct {
	Timestamp    time.Time    `json:"timestamp"`
	Notification Notification `json:"notification"`
}
