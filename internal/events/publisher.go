package events

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/google/uuid"
)

// NewEvent builds a versioned event with a fresh id and JSON-encoded payload.
func NewEvent(eventType types.EventType, scopeID, userID, source string, payload any) (types.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.Event{}, apperrors.Wrap(err, apperrors.ServerError, "Failed to marshal event payload")
	}

	return types.Event{
		BaseEvent: types.BaseEvent{
			ID:        uuid.NewString(),
			Type:      eventType,
			ScopeID:   scopeID,
			UserID:    userID,
			Timestamp: time.Now().UTC(),
			Version:   1,
		},
		Metadata: types.EventMetadata{Source: source},
		Payload:  data,
	}, nil
}

// PublishEvent builds an event with NewEvent and publishes it on scopeID.
func PublishEvent(ctx context.Context, publisher types.EventPublisher, eventType types.EventType, scopeID, userID, source string, payload any) error {
	event, err := NewEvent(eventType, scopeID, userID, source, payload)
	if err != nil {
		return err
	}
	if err := publisher.Publish(ctx, scopeID, event); err != nil {
		return apperrors.NewTransportError("publish event", err)
	}
	return nil
}

// DecodePayload unmarshals the payload of event into T.
func DecodePayload[T any](event types.Event) (T, error) {
	var out T
	if err := json.Unmarshal(event.Payload, &out); err != nil {
		return out, apperrors.ValidationFailed("invalid event payload", err.Error())
	}
	return out, nil
}
