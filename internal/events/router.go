package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// RouterMetrics holds Prometheus metrics for the router
type RouterMetrics struct {
	handlerCount    prometheus.Gauge
	handlerLatency  prometheus.Histogram
	handlerErrors   *prometheus.CounterVec
	eventsRouted    *prometheus.CounterVec
	eventsDiscarded *prometheus.CounterVec
}

var (
	routerMetricsOnce   sync.Once
	globalRouterMetrics *RouterMetrics
)

func getRouterMetrics() *RouterMetrics {
	routerMetricsOnce.Do(func() {
		globalRouterMetrics = &RouterMetrics{
			handlerCount: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "domain_event_handlers",
				Help: "Number of registered domain event handlers",
			}),
			handlerLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "domain_event_handler_duration_seconds",
				Help:    "Time taken by handlers to process a domain event",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}),
			handlerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "domain_event_handler_errors_total",
				Help: "Handler failures by event type",
			}, []string{"event_type"}),
			eventsRouted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "domain_events_routed_total",
				Help: "Domain events routed by type",
			}, []string{"event_type"}),
			eventsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "domain_events_discarded_total",
				Help: "Domain events dropped by reason",
			}, []string{"reason"}),
		}
	})
	return globalRouterMetrics
}

// Router dispatches domain events to the handlers registered for their type.
type Router struct {
	log      *zap.SugaredLogger
	metrics  *RouterMetrics
	mu       sync.RWMutex
	handlers map[types.EventType][]types.EventHandler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		log:      logger.GetLogger().Named("event_router"),
		metrics:  getRouterMetrics(),
		handlers: make(map[types.EventType][]types.EventHandler),
	}
}

// RegisterHandler registers handler for every type it declares.
func (r *Router) RegisterHandler(handler types.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	supported := handler.SupportedEvents()
	if len(supported) == 0 {
		r.log.Warnw("Handler registered with no supported events", "handler", fmt.Sprintf("%T", handler))
		return
	}

	for _, eventType := range supported {
		r.handlers[eventType] = append(r.handlers[eventType], handler)
		r.log.Infow("Registered event handler", "eventType", eventType, "handler", fmt.Sprintf("%T", handler))
	}
	r.metrics.handlerCount.Set(float64(r.countHandlers()))
}

// UnregisterHandler removes handler from all its event types.
func (r *Router) UnregisterHandler(handler types.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, eventType := range handler.SupportedEvents() {
		handlers := r.handlers[eventType]
		for i, h := range handlers {
			if h == handler {
				r.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
		if len(r.handlers[eventType]) == 0 {
			delete(r.handlers, eventType)
		}
	}
	r.metrics.handlerCount.Set(float64(r.countHandlers()))
}

// Handles reports whether any handler is registered for t.
func (r *Router) Handles(t types.EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t]) > 0
}

// EventTypes lists the event types that have at least one handler.
func (r *Router) EventTypes() []types.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.EventType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// HandleEvent runs every handler for event.Type concurrently and joins their errors.
func (r *Router) HandleEvent(ctx context.Context, event types.Event) error {
	r.mu.RLock()
	handlers := append([]types.EventHandler(nil), r.handlers[event.Type]...)
	r.mu.RUnlock()

	if len(handlers) == 0 {
		r.metrics.eventsDiscarded.WithLabelValues("no_handlers").Inc()
		r.log.Debugw("No handlers registered for event type", "eventType", event.Type)
		return nil
	}
	r.metrics.eventsRouted.WithLabelValues(string(event.Type)).Inc()

	var wg sync.WaitGroup
	errs := make([]error, len(handlers))
	for i, handler := range handlers {
		wg.Add(1)
		go func(i int, h types.EventHandler) {
			defer wg.Done()
			timer := prometheus.NewTimer(r.metrics.handlerLatency)
			defer timer.ObserveDuration()

			if err := h.HandleEvent(ctx, event); err != nil {
				r.metrics.handlerErrors.WithLabelValues(string(event.Type)).Inc()
				r.log.Errorw("Handler error", "error", err, "eventType", event.Type, "eventID", event.ID, "handler", fmt.Sprintf("%T", h))
				errs[i] = fmt.Errorf("handler %T: %w", h, err)
			}
		}(i, handler)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (r *Router) countHandlers() int {
	unique := make(map[types.EventHandler]struct{})
	for _, handlers := range r.handlers {
		for _, h := range handlers {
			unique[h] = struct{}{}
		}
	}
	return len(unique)
}
