package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds configuration for RedisPublisher
type Config struct {
	PublishTimeout   time.Duration
	SubscribeTimeout time.Duration
	EventBufferSize  int
	// ChannelPrefix namespaces every scope channel.
	ChannelPrefix string
}

// DefaultConfig returns default configuration values
func DefaultConfig() Config {
	return Config{
		PublishTimeout:   5 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		EventBufferSize:  100,
		ChannelPrefix:    "eventcrew:",
	}
}

type metrics struct {
	publishLatency    prometheus.Histogram
	subscribeLatency  prometheus.Histogram
	errorCount        *prometheus.CounterVec
	eventCount        *prometheus.CounterVec
	activeSubscribers prometheus.Gauge
}

var (
	metricsInstance *metrics
	metricsOnce     sync.Once
	defaultRegistry = prometheus.DefaultRegisterer
)

func newMetrics() *metrics {
	metricsOnce.Do(func() {
		metricsInstance = &metrics{
			publishLatency: promauto.With(defaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "event_publish_duration_seconds",
				Help:    "Time taken to publish events",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
			subscribeLatency: promauto.With(defaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "event_subscribe_duration_seconds",
				Help:    "Time taken to establish subscriptions",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
			errorCount: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "event_errors_total",
				Help: "Total number of event-related errors",
			}, []string{"operation", "type"}),
			eventCount: promauto.With(defaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "events_total",
				Help: "Total number of events by operation and type",
			}, []string{"operation", "type"}),
			activeSubscribers: promauto.With(defaultRegistry).NewGauge(prometheus.GaugeOpts{
				Name: "event_active_subscribers",
				Help: "Current number of active subscribers",
			}),
		}
	})
	return metricsInstance
}

// resetMetricsForTesting swaps in a fresh registry so tests can build publishers repeatedly.
func resetMetricsForTesting() {
	defaultRegistry = prometheus.NewRegistry()
	metricsInstance = nil
	metricsOnce = sync.Once{}
}

// RedisPublisher implements types.EventPublisher on Redis Pub/Sub. Every scope
// maps to one channel; every (scope, subscriber) pair owns one PubSub connection.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	log     *zap.SugaredLogger
	metrics *metrics
	config  Config
	mu      sync.Mutex
	subs    map[string]*subscription
	wg      sync.WaitGroup
}

type subscription struct {
	pubsub    *redis.PubSub
	cancelCtx context.CancelFunc
	closeOnce sync.Once
}

func (s *subscription) close(log *zap.SugaredLogger, subKey string) {
	s.closeOnce.Do(func() {
		s.cancelCtx()
		if err := s.pubsub.Close(); err != nil {
			log.Errorw("Error closing pubsub", "error", err, "subKey", subKey)
		}
	})
}

// NewRedisPublisher creates a new RedisPublisher instance
func NewRedisPublisher(rdb redis.UniversalClient, cfg ...Config) *RedisPublisher {
	config := DefaultConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}
	if config.EventBufferSize <= 0 {
		config.EventBufferSize = DefaultConfig().EventBufferSize
	}

	return &RedisPublisher{
		rdb:     rdb,
		log:     logger.GetLogger().Named("events"),
		metrics: newMetrics(),
		config:  config,
		subs:    make(map[string]*subscription),
	}
}

// Channel returns the Redis channel carrying scopeID.
func (p *RedisPublisher) Channel(scopeID string) string {
	return p.config.ChannelPrefix + scopeID
}

func subscriptionKey(scopeID, subscriberID string) string {
	return scopeID + "|" + subscriberID
}

func (p *RedisPublisher) encode(op string, event *types.Event) ([]byte, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Version == 0 {
		event.Version = 1
	}
	if err := event.Validate(); err != nil {
		p.metrics.errorCount.WithLabelValues(op, "validation").Inc()
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.metrics.errorCount.WithLabelValues(op, "marshal").Inc()
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Publish publishes one event on the scope's channel.
func (p *RedisPublisher) Publish(ctx context.Context, scopeID string, event types.Event) error {
	start := time.Now()
	defer func() {
		p.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}()

	if event.ScopeID == "" {
		event.ScopeID = scopeID
	}
	data, err := p.encode("publish", &event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	if err := p.rdb.Publish(ctx, p.Channel(scopeID), data).Err(); err != nil {
		p.metrics.errorCount.WithLabelValues("publish", "redis").Inc()
		return fmt.Errorf("redis publish: %w", err)
	}

	p.metrics.eventCount.WithLabelValues("publish", string(event.Type)).Inc()
	return nil
}

// PublishBatch publishes events in one pipeline. Nothing is sent if any event is invalid.
func (p *RedisPublisher) PublishBatch(ctx context.Context, scopeID string, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	payloads := make([][]byte, 0, len(events))
	for i := range events {
		event := events[i]
		if event.ScopeID == "" {
			event.ScopeID = scopeID
		}
		data, err := p.encode("publish_batch", &event)
		if err != nil {
			return fmt.Errorf("event %d in batch: %w", i, err)
		}
		payloads = append(payloads, data)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	channel := p.Channel(scopeID)
	pipe := p.rdb.Pipeline()
	for _, data := range payloads {
		pipe.Publish(ctx, channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.metrics.errorCount.WithLabelValues("publish_batch", "redis").Inc()
		return fmt.Errorf("execute batch publish: %w", err)
	}

	for _, event := range events {
		p.metrics.eventCount.WithLabelValues("publish", string(event.Type)).Inc()
	}
	return nil
}

// Subscribe opens a subscription on scopeID for subscriberID. It returns once
// Redis has confirmed the subscription, so events published afterwards are
// delivered. The returned channel is closed on Unsubscribe or Shutdown.
func (p *RedisPublisher) Subscribe(ctx context.Context, scopeID string, subscriberID string, filters ...types.EventType) (<-chan types.Event, error) {
	start := time.Now()
	defer func() {
		p.metrics.subscribeLatency.Observe(time.Since(start).Seconds())
	}()

	subKey := subscriptionKey(scopeID, subscriberID)

	p.mu.Lock()
	if _, exists := p.subs[subKey]; exists {
		p.mu.Unlock()
		p.metrics.errorCount.WithLabelValues("subscribe", "duplicate").Inc()
		return nil, fmt.Errorf("subscription already exists for scope %s and subscriber %s", scopeID, subscriberID)
	}
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{pubsub: p.rdb.Subscribe(ctx, p.Channel(scopeID)), cancelCtx: cancel}
	p.subs[subKey] = sub
	p.mu.Unlock()

	confirmCtx, confirmCancel := context.WithTimeout(ctx, p.config.SubscribeTimeout)
	defer confirmCancel()
	if _, err := sub.pubsub.Receive(confirmCtx); err != nil {
		p.mu.Lock()
		if p.subs[subKey] == sub {
			delete(p.subs, subKey)
		}
		p.mu.Unlock()
		sub.close(p.log, subKey)
		p.metrics.errorCount.WithLabelValues("subscribe", "redis").Inc()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	p.metrics.activeSubscribers.Inc()
	events := make(chan types.Event, p.config.EventBufferSize)

	p.wg.Add(1)
	go p.processMessages(subCtx, sub, events, filters, subKey)

	return events, nil
}

func (p *RedisPublisher) processMessages(ctx context.Context, sub *subscription, events chan<- types.Event, filters []types.EventType, subKey string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if p.subs[subKey] == sub {
			delete(p.subs, subKey)
		}
		p.mu.Unlock()
		sub.close(p.log, subKey)

		close(events)
		p.metrics.activeSubscribers.Dec()
		p.log.Debugw("Subscription closed", "subKey", subKey)
	}()

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event types.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				p.metrics.errorCount.WithLabelValues("process", "unmarshal").Inc()
				p.log.Errorw("Failed to unmarshal event", "error", err, "subKey", subKey)
				continue
			}
			if !matchesFilters(event.Type, filters) {
				continue
			}

			select {
			case events <- event:
				p.metrics.eventCount.WithLabelValues("receive", string(event.Type)).Inc()
			case <-ctx.Done():
				return
			default:
				p.metrics.errorCount.WithLabelValues("process", "channel_full").Inc()
				p.log.Warnw("Dropped event due to full channel", "subKey", subKey, "eventType", event.Type)
			}
		}
	}
}

func matchesFilters(t types.EventType, filters []types.EventType) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if t == f {
			return true
		}
	}
	return false
}

// Unsubscribe tears down the subscription of subscriberID on scopeID.
func (p *RedisPublisher) Unsubscribe(ctx context.Context, scopeID string, subscriberID string) error {
	subKey := subscriptionKey(scopeID, subscriberID)

	p.mu.Lock()
	sub, exists := p.subs[subKey]
	if exists {
		delete(p.subs, subKey)
	}
	p.mu.Unlock()

	if !exists {
		return fmt.Errorf("no subscription found for scope %s and subscriber %s", scopeID, subscriberID)
	}
	sub.close(p.log, subKey)
	return nil
}

// ActiveSubscriptions returns the number of open subscriptions.
func (p *RedisPublisher) ActiveSubscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Shutdown closes every subscription and waits for their goroutines, or for ctx.
func (p *RedisPublisher) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	localSubs := p.subs
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()

	p.log.Infow("Shutting down RedisPublisher, closing subscriptions...", "count", len(localSubs))
	for subKey, sub := range localSubs {
		sub.close(p.log, subKey)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("RedisPublisher shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("redis publisher shutdown: %w", ctx.Err())
	}
}
