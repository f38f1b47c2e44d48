package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T) *RedisPublisher {
	t.Helper()
	resetMetricsForTesting()
	_, rdb := setupRedis(t)
	publisher := NewRedisPublisher(rdb)
	t.Cleanup(func() {
		if err := publisher.Shutdown(context.Background()); err != nil {
			t.Logf("Error during publisher shutdown: %v", err)
		}
	})
	return publisher
}

func TestRedisPublisher_PublishAndSubscribe(t *testing.T) {
	publisher := newTestPublisher(t)
	ctx := context.Background()

	events, err := publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)

	event := testEvent(types.EventTypeEventUpdated, "scope-1")
	require.NoError(t, publisher.Publish(ctx, "scope-1", event))

	received := receive(t, events)
	assert.Equal(t, event.ID, received.ID)
	assert.Equal(t, event.Type, received.Type)
	assert.Equal(t, "scope-1", received.ScopeID)
	assert.JSONEq(t, string(event.Payload), string(received.Payload))

	require.NoError(t, publisher.Unsubscribe(ctx, "scope-1", "sub-1"))
}

func TestRedisPublisher_FillsMissingEnvelopeFields(t *testing.T) {
	publisher := newTestPublisher(t)
	ctx := context.Background()

	events, err := publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, "scope-1", types.Event{
		BaseEvent: types.BaseEvent{Type: types.EventTypeEventCancelled},
		Payload:   []byte(`{}`),
	}))

	received := receive(t, events)
	assert.NotEmpty(t, received.ID)
	assert.Equal(t, "scope-1", received.ScopeID)
	assert.False(t, received.Timestamp.IsZero())
	assert.Equal(t, 1, received.Version)
}

func TestRedisPublisher_RejectsEventWithoutType(t *testing.T) {
	publisher := newTestPublisher(t)
	err := publisher.Publish(context.Background(), "scope-1", types.Event{})
	assert.Error(t, err)
}

func TestRedisPublisher_ScopesAreIsolated(t *testing.T) {
	publisher := newTestPublisher(t)
	ctx := context.Background()

	a, err := publisher.Subscribe(ctx, "scope-a", "sub")
	require.NoError(t, err)
	b, err := publisher.Subscribe(ctx, "scope-b", "sub")
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, "scope-b", testEvent(types.EventTypeEventUpdated, "scope-b")))

	assert.Equal(t, "scope-b", receive(t, b).ScopeID)
	select {
	case ev := <-a:
		t.Fatalf("scope-a received foreign event: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisPublisher_PublishBatch(t *testing.T) {
	publisher := newTestPublisher(t)
	ctx := context.Background()

	ch, err := publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)

	batch := []types.Event{
		testEvent(types.EventTypeParticipationRequested, "scope-1"),
		testEvent(types.EventTypeParticipationAccepted, "scope-1"),
	}
	require.NoError(t, publisher.PublishBatch(ctx, "scope-1", batch))

	for _, want := range batch {
		got := receive(t, ch)
		assert.Equal(t, want.Type, got.Type)
	}
}

func TestRedisPublisher_PublishBatchInvalidSendsNothing(t *testing.T) {
	publisher := newTestPublisher(t)
	ctx := context.Background()

	ch, err := publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)

	err = publisher.PublishBatch(ctx, "scope-1", []types.Event{
		testEvent(types.EventTypeEventUpdated, "scope-1"),
		{},
	})
	require.Error(t, err)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisPublisher_FilteredSubscription(t *testing.T) {
	publisher := newTestPublisher(t)
	ctx := context.Background()

	ch, err := publisher.Subscribe(ctx, "scope-1", "sub-1", types.EventTypeEventCancelled)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, "scope-1", testEvent(types.EventTypeEventUpdated, "scope-1")))
	require.NoError(t, publisher.Publish(ctx, "scope-1", testEvent(types.EventTypeEventCancelled, "scope-1")))

	assert.Equal(t, types.EventTypeEventCancelled, receive(t, ch).Type)
	select {
	case ev := <-ch:
		t.Fatalf("received unexpected event: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisPublisher_SkipsMalformedMessages(t *testing.T) {
	resetMetricsForTesting()
	_, rdb := setupRedis(t)
	publisher := NewRedisPublisher(rdb)
	defer func() { _ = publisher.Shutdown(context.Background()) }()
	ctx := context.Background()

	ch, err := publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)

	require.NoError(t, rdb.Publish(ctx, publisher.Channel("scope-1"), "not json").Err())
	good := testEvent(types.EventTypeEventUpdated, "scope-1")
	data, err := json.Marshal(good)
	require.NoError(t, err)
	require.NoError(t, rdb.Publish(ctx, publisher.Channel("scope-1"), data).Err())

	assert.Equal(t, good.ID, receive(t, ch).ID)
}

func TestRedisPublisher_DuplicateSubscription(t *testing.T) {
	publisher := newTestPublisher(t)
	ctx := context.Background()

	_, err := publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)

	_, err = publisher.Subscribe(ctx, "scope-1", "sub-1")
	assert.Error(t, err)
	assert.Equal(t, 1, publisher.ActiveSubscriptions())
}

func TestRedisPublisher_UnsubscribeClosesChannel(t *testing.T) {
	publisher := newTestPublisher(t)
	ctx := context.Background()

	ch, err := publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)
	require.NoError(t, publisher.Unsubscribe(ctx, "scope-1", "sub-1"))

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
	assert.Zero(t, publisher.ActiveSubscriptions())

	// The pair can subscribe again once released.
	_, err = publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)
}

func TestRedisPublisher_UnsubscribeNonexistent(t *testing.T) {
	publisher := newTestPublisher(t)
	err := publisher.Unsubscribe(context.Background(), "nonexistent-scope", "nonexistent-subscriber")
	assert.Error(t, err)
}

func TestRedisPublisher_SubscribeFailsWhenRedisDown(t *testing.T) {
	resetMetricsForTesting()
	mr, rdb := setupRedis(t)
	cfg := DefaultConfig()
	cfg.SubscribeTimeout = 500 * time.Millisecond
	publisher := NewRedisPublisher(rdb, cfg)
	mr.Close()

	_, err := publisher.Subscribe(context.Background(), "scope-1", "sub-1")
	require.Error(t, err)
	assert.Zero(t, publisher.ActiveSubscriptions())
}

func TestRedisPublisher_Shutdown(t *testing.T) {
	resetMetricsForTesting()
	_, rdb := setupRedis(t)
	ctx := context.Background()
	publisher := NewRedisPublisher(rdb)

	ch1, err := publisher.Subscribe(ctx, "scope-1", "sub-1")
	require.NoError(t, err)
	ch2, err := publisher.Subscribe(ctx, "scope-2", "sub-1")
	require.NoError(t, err)

	require.NoError(t, publisher.Shutdown(ctx))

	for _, ch := range []<-chan types.Event{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}
	assert.Zero(t, publisher.ActiveSubscriptions())

	// New subscriptions still work after shutdown
	_, err = publisher.Subscribe(ctx, "scope-3", "sub-1")
	require.NoError(t, err)
	require.NoError(t, publisher.Shutdown(ctx))
}
