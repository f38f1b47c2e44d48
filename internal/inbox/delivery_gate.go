package inbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"go.uber.org/zap"
)

const presentTimeout = 15 * time.Second

// Presenter shows a system notification on the recipient's device.
type Presenter interface {
	DisplayNotification(ctx context.Context, device string, t types.NotificationType, payload json.RawMessage) error
}

// Dispatcher runs presentation work off the caller's goroutine.
// It reports false when the work was not accepted.
type Dispatcher interface {
	Dispatch(name string, fn func(ctx context.Context) error) bool
}

// DeliveryGate presents realtime notifications as system notifications, but
// only while the recipient's app is not in the foreground. It never touches
// Store state.
type DeliveryGate struct {
	presenter  Presenter
	foreground ForegroundState
	dispatcher Dispatcher
	device     string
	log        *zap.SugaredLogger
	metrics    *metrics
}

// NewDeliveryGate creates a gate. dispatcher may be nil, in which case each
// presentation runs on its own goroutine.
func NewDeliveryGate(presenter Presenter, foreground ForegroundState, dispatcher Dispatcher, device string) *DeliveryGate {
	return &DeliveryGate{
		presenter:  presenter,
		foreground: foreground,
		dispatcher: dispatcher,
		device:     device,
		log:        logger.GetLogger().Named("delivery_gate"),
		metrics:    getMetrics(),
	}
}

// Device returns the push target of the gate.
func (g *DeliveryGate) Device() string {
	return g.device
}

// ShouldPresent reports whether a record arriving now needs a system notification.
func (g *DeliveryGate) ShouldPresent() bool {
	return g.presenter != nil && g.device != "" && !g.foreground.IsForeground()
}

// Deliver hands n to the presenter when the app is backgrounded. It returns
// whether a presentation was started. Presenter failures are logged only.
func (g *DeliveryGate) Deliver(n types.Notification) bool {
	if !g.ShouldPresent() {
		g.metrics.presentations.WithLabelValues("suppressed").Inc()
		return false
	}

	present := func(ctx context.Context) error {
		if err := g.presenter.DisplayNotification(ctx, g.device, n.Type, n.Payload); err != nil {
			g.metrics.presentations.WithLabelValues("failed").Inc()
			g.log.Warnw("Push presentation failed",
				"notificationID", n.ID,
				"device", logger.MaskSensitiveString(g.device, 6, 3),
				"error", err)
			return nil
		}
		g.metrics.presentations.WithLabelValues("presented").Inc()
		return nil
	}

	if g.dispatcher != nil {
		if !g.dispatcher.Dispatch("present:"+n.ID, present) {
			g.metrics.presentations.WithLabelValues("dropped").Inc()
			g.log.Warnw("Push presentation dropped", "notificationID", n.ID)
			return false
		}
		return true
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presentTimeout)
		defer cancel()
		_ = present(ctx)
	}()
	return true
}
