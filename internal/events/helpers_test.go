package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/redis/go-redis/v9"
)

func init() {
	logger.IsTest = true
}

// mockHandler is a test implementation of the EventHandler interface
type mockHandler struct {
	mu              sync.Mutex
	events          []types.Event
	supportedTypes  []types.EventType
	shouldError     bool
	handlerLatency  time.Duration
	handlerBlocking bool
}

func newMockHandler(supportedTypes ...types.EventType) *mockHandler {
	return &mockHandler{supportedTypes: supportedTypes}
}

func (h *mockHandler) HandleEvent(ctx context.Context, event types.Event) error {
	if h.handlerLatency > 0 {
		time.Sleep(h.handlerLatency)
	}
	if h.handlerBlocking {
		<-ctx.Done()
		return ctx.Err()
	}
	if h.shouldError {
		return fmt.Errorf("mock handler error")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *mockHandler) SupportedEvents() []types.EventType {
	return h.supportedTypes
}

func (h *mockHandler) GetEvents() []types.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Event(nil), h.events...)
}

// setupRedis starts an in-process Redis and returns a client for it.
func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testEvent(eventType types.EventType, scopeID string) types.Event {
	return types.Event{
		BaseEvent: types.BaseEvent{
			ID:        fmt.Sprintf("evt-%d", time.Now().UnixNano()),
			Type:      eventType,
			ScopeID:   scopeID,
			UserID:    "user-1",
			Timestamp: time.Now(),
			Version:   1,
		},
		Metadata: types.EventMetadata{Source: "test"},
		Payload:  []byte(`{"eventId":"e1"}`),
	}
}

func receive(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return types.Event{}
}
