package events

import (
	"context"
	"testing"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	payload := types.EventChangedPayload{EventID: "e1", EventTitle: "Picnic", ActorID: "u1"}
	event, err := NewEvent(types.EventTypeEventUpdated, types.DomainEventScope, "u1", "events-api", payload)
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, "events-api", event.Metadata.Source)
	require.NoError(t, event.Validate())

	decoded, err := DecodePayload[types.EventChangedPayload](event)
	require.NoError(t, err)
	assert.Equal(t, payload.EventTitle, decoded.EventTitle)
}

func TestNewEventUnmarshalablePayload(t *testing.T) {
	_, err := NewEvent(types.EventTypeEventUpdated, "scope", "u1", "test", make(chan int))
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ServerError, appErr.Type)
}

func TestDecodePayloadInvalid(t *testing.T) {
	event := testEvent(types.EventTypeEventUpdated, "scope")
	event.Payload = []byte(`[1,2]`)
	_, err := DecodePayload[types.EventChangedPayload](event)
	assert.Error(t, err)
}

func TestPublishEventWrapsTransportFailure(t *testing.T) {
	p := NewMemoryPublisher(1)
	require.NoError(t, p.Shutdown(context.Background()))

	err := PublishEvent(context.Background(), p, types.EventTypeEventUpdated, "scope", "u1", "test", map[string]string{})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.TransportError, appErr.Type)
}
