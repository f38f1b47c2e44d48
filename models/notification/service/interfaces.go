package service

import (
	"context"

	"github.com/eventcrew/eventcrew-backend/types"
)

// NotificationServiceInterface is the producer side of the notification
// engine: it turns domain events into per-recipient records.
type NotificationServiceInterface interface {
	types.EventHandler

	// CreateAndPublishNotification persists one record and announces it on the recipient's feed.
	CreateAndPublishNotification(ctx context.Context, recipientID string, notificationType types.NotificationType, eventID string, payload types.NotificationPayload) (*types.Notification, error)
}

// InsertPublisher announces persisted notifications to realtime subscribers.
type InsertPublisher interface {
	PublishInsert(ctx context.Context, n types.Notification) error
}
