package events

import (
	"context"
	"testing"
	"time"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRouter builds a router whose metrics are never registered globally.
func testRouter() *Router {
	logger.IsTest = true
	metrics := &RouterMetrics{
		handlerCount: prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_handlers", Help: "Test metric"}),
		handlerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_handler_duration_seconds", Help: "Test metric",
		}),
		handlerErrors:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_handler_errors_total", Help: "Test metric"}, []string{"event_type"}),
		eventsRouted:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_routed_total", Help: "Test metric"}, []string{"event_type"}),
		eventsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_discarded_total", Help: "Test metric"}, []string{"reason"}),
	}

	return &Router{
		log:      logger.GetLogger().Named("test_event_router"),
		metrics:  metrics,
		handlers: make(map[types.EventType][]types.EventHandler),
	}
}

func TestRouter_RegisterHandler(t *testing.T) {
	router := testRouter()
	handler := newMockHandler(types.EventTypeParticipationRequested, types.EventTypeEventUpdated)

	router.RegisterHandler(handler)

	assert.Equal(t, 1, router.countHandlers())
	assert.True(t, router.Handles(types.EventTypeParticipationRequested))
	assert.True(t, router.Handles(types.EventTypeEventUpdated))
	assert.False(t, router.Handles(types.EventTypeEventCancelled))
	assert.ElementsMatch(t,
		[]types.EventType{types.EventTypeParticipationRequested, types.EventTypeEventUpdated},
		router.EventTypes())
}

func TestRouter_RegisterHandlerWithoutEvents(t *testing.T) {
	router := testRouter()
	router.RegisterHandler(newMockHandler())
	assert.Zero(t, router.countHandlers())
	assert.Empty(t, router.EventTypes())
}

func TestRouter_UnregisterHandler(t *testing.T) {
	router := testRouter()
	keep := newMockHandler(types.EventTypeEventUpdated)
	drop := newMockHandler(types.EventTypeEventUpdated, types.EventTypeEventCancelled)

	router.RegisterHandler(keep)
	router.RegisterHandler(drop)
	router.UnregisterHandler(drop)

	assert.Equal(t, 1, router.countHandlers())
	assert.False(t, router.Handles(types.EventTypeEventCancelled))

	require.NoError(t, router.HandleEvent(context.Background(), testEvent(types.EventTypeEventUpdated, "domain")))
	assert.Len(t, keep.GetEvents(), 1)
	assert.Empty(t, drop.GetEvents())
}

func TestRouter_HandleEvent(t *testing.T) {
	router := testRouter()
	handler1 := newMockHandler(types.EventTypeParticipationAccepted)
	handler2 := newMockHandler(types.EventTypeParticipationAccepted)
	router.RegisterHandler(handler1)
	router.RegisterHandler(handler2)

	event := testEvent(types.EventTypeParticipationAccepted, "domain")
	require.NoError(t, router.HandleEvent(context.Background(), event))

	require.Len(t, handler1.GetEvents(), 1)
	require.Len(t, handler2.GetEvents(), 1)
	assert.Equal(t, event.ID, handler1.GetEvents()[0].ID)
	assert.Equal(t, event.ID, handler2.GetEvents()[0].ID)
}

func TestRouter_HandleEvent_NoHandlers(t *testing.T) {
	router := testRouter()
	err := router.HandleEvent(context.Background(), testEvent(types.EventTypeEventCancelled, "domain"))
	assert.NoError(t, err)
}

func TestRouter_HandleEvent_HandlerError(t *testing.T) {
	router := testRouter()
	failing := newMockHandler(types.EventTypeEventUpdated)
	failing.shouldError = true
	healthy := newMockHandler(types.EventTypeEventUpdated)
	router.RegisterHandler(failing)
	router.RegisterHandler(healthy)

	err := router.HandleEvent(context.Background(), testEvent(types.EventTypeEventUpdated, "domain"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock handler error")
	assert.Len(t, healthy.GetEvents(), 1)
}

func TestRouter_HandleEvent_ContextCancellation(t *testing.T) {
	router := testRouter()
	handler := newMockHandler(types.EventTypeEventUpdated)
	handler.handlerBlocking = true
	router.RegisterHandler(handler)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := router.HandleEvent(ctx, testEvent(types.EventTypeEventUpdated, "domain"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouter_HandleEvent_RunsHandlersConcurrently(t *testing.T) {
	router := testRouter()
	for i := 0; i < 3; i++ {
		h := newMockHandler(types.EventTypeEventUpdated)
		h.handlerLatency = 100 * time.Millisecond
		router.RegisterHandler(h)
	}

	start := time.Now()
	require.NoError(t, router.HandleEvent(context.Background(), testEvent(types.EventTypeEventUpdated, "domain")))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}
