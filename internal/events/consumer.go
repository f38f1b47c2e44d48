package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"go.uber.org/zap"
)

// Consumer feeds domain events from the publisher into a Router.
type Consumer struct {
	publisher    types.EventPublisher
	router       *Router
	subscriberID string
	log          *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewConsumer creates a consumer registered as subscriberID on the domain scope.
func NewConsumer(publisher types.EventPublisher, router *Router, subscriberID string) *Consumer {
	return &Consumer{
		publisher:    publisher,
		router:       router,
		subscriberID: subscriberID,
		log:          logger.GetLogger().Named("event_consumer"),
	}
}

// Start subscribes to the event types the router handles and dispatches them
// until Stop is called or ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer %s already running", c.subscriberID)
	}

	filters := c.router.EventTypes()
	if len(filters) == 0 {
		return fmt.Errorf("consumer %s: no handlers registered", c.subscriberID)
	}

	ch, err := c.publisher.Subscribe(ctx, types.DomainEventScope, c.subscriberID, filters...)
	if err != nil {
		return fmt.Errorf("subscribe to domain events: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(runCtx, ch, c.done)
	c.log.Infow("Domain event consumer started", "subscriberID", c.subscriberID, "eventTypes", filters)
	return nil
}

func (c *Consumer) run(ctx context.Context, ch <-chan types.Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := c.router.HandleEvent(ctx, event); err != nil {
				c.log.Errorw("Failed to handle domain event", "eventID", event.ID, "eventType", event.Type, "error", err)
			}
		}
	}
}

// Stop unsubscribes and waits for the in-flight event to finish, or for ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	if err := c.publisher.Unsubscribe(ctx, types.DomainEventScope, c.subscriberID); err != nil {
		c.log.Warnw("Unsubscribe failed during stop", "subscriberID", c.subscriberID, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
