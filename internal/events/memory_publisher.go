package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/eventcrew/eventcrew-backend/types"
)

// MemoryPublisher is an in-process types.EventPublisher. It backs single-node
// development setups and tests.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events map[string][]types.Event
	subs   map[string]*memorySubscription
	buffer int
	closed bool
}

type memorySubscription struct {
	scope   string
	ch      chan types.Event
	filters []types.EventType
}

var _ types.EventPublisher = (*MemoryPublisher)(nil)

// NewMemoryPublisher creates a publisher whose subscriber channels hold buffer events.
func NewMemoryPublisher(buffer int) *MemoryPublisher {
	if buffer <= 0 {
		buffer = DefaultConfig().EventBufferSize
	}
	return &MemoryPublisher{
		events: make(map[string][]types.Event),
		subs:   make(map[string]*memorySubscription),
		buffer: buffer,
	}
}

// Publish records event and delivers it to the scope's subscribers. Full
// subscriber channels drop the event, like the Redis transport.
func (m *MemoryPublisher) Publish(ctx context.Context, scopeID string, event types.Event) error {
	return m.PublishBatch(ctx, scopeID, []types.Event{event})
}

func (m *MemoryPublisher) PublishBatch(ctx context.Context, scopeID string, events []types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("publisher is closed")
	}
	for _, event := range events {
		if event.ScopeID == "" {
			event.ScopeID = scopeID
		}
		m.events[scopeID] = append(m.events[scopeID], event)
		for _, sub := range m.subs {
			if sub.scope != scopeID || !matchesFilters(event.Type, sub.filters) {
				continue
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	return nil
}

// Subscribe only sees events published after it returns.
func (m *MemoryPublisher) Subscribe(ctx context.Context, scopeID string, subscriberID string, filters ...types.EventType) (<-chan types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("publisher is closed")
	}
	key := subscriptionKey(scopeID, subscriberID)
	if _, exists := m.subs[key]; exists {
		return nil, fmt.Errorf("subscription already exists for scope %s and subscriber %s", scopeID, subscriberID)
	}

	sub := &memorySubscription{scope: scopeID, ch: make(chan types.Event, m.buffer), filters: filters}
	m.subs[key] = sub
	return sub.ch, nil
}

func (m *MemoryPublisher) Unsubscribe(ctx context.Context, scopeID string, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subscriptionKey(scopeID, subscriberID)
	sub, exists := m.subs[key]
	if !exists {
		return fmt.Errorf("no subscription found for scope %s and subscriber %s", scopeID, subscriberID)
	}
	close(sub.ch)
	delete(m.subs, key)
	return nil
}

// Published returns the events recorded for scopeID.
func (m *MemoryPublisher) Published(scopeID string) []types.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Event(nil), m.events[scopeID]...)
}

// Subscribers returns the number of open subscriptions on scopeID.
func (m *MemoryPublisher) Subscribers(scopeID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sub := range m.subs {
		if sub.scope == scopeID {
			n++
		}
	}
	return n
}

// Shutdown closes every subscription and rejects further calls.
func (m *MemoryPublisher) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, sub := range m.subs {
		close(sub.ch)
		delete(m.subs, key)
	}
	m.closed = true
	return nil
}
