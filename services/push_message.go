package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"go.uber.org/zap"
)

// PushMessage is the provider-neutral content of a system notification.
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]interface{}
}

// RenderPush builds the displayed text for a notification type. Unknown types
// and undecodable payloads still render a generic message.
func RenderPush(t types.NotificationType, payload json.RawMessage) PushMessage {
	var p types.NotificationPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			logger.GetLogger().Debugw("Push payload is not a notification payload", "type", t, "error", err)
		}
	}

	title := p.EventTitle
	if title == "" {
		title = "EventCrew"
	}
	actor := p.ActorName
	if actor == "" {
		actor = "Someone"
	}

	msg := PushMessage{Title: title, Data: map[string]interface{}{"type": string(t)}}
	if p.RequestID != "" {
		msg.Data["requestId"] = p.RequestID
	}

	switch t {
	case types.NotificationTypeNewRequest:
		msg.Body = fmt.Sprintf("%s wants to join your event", actor)
	case types.NotificationTypeRequestAccepted:
		msg.Body = "Your request to join was accepted"
	case types.NotificationTypeRequestRejected:
		msg.Body = "Your request to join was declined"
	case types.NotificationTypeEventUpdated:
		msg.Body = fmt.Sprintf("%s updated the event", actor)
	case types.NotificationTypeEventCancelled:
		msg.Body = "The event was cancelled"
	default:
		msg.Body = "You have a new notification"
	}
	return msg
}

// NoopPushService accepts every presentation and only logs it. It backs the
// "none" push provider.
type NoopPushService struct {
	logger *zap.Logger
}

// NewNoopPushService creates a presenter that never leaves the process.
func NewNoopPushService(log *zap.Logger) *NoopPushService {
	return &NoopPushService{logger: log.Named("NoopPushService")}
}

func (s *NoopPushService) DisplayNotification(ctx context.Context, device string, t types.NotificationType, payload json.RawMessage) error {
	s.logger.Debug("Push presentation skipped",
		zap.String("device", logger.MaskSensitiveString(device, 4, 2)),
		zap.String("type", string(t)))
	return nil
}
