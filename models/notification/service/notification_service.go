package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/internal/events"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"go.uber.org/zap"
)

var _ NotificationServiceInterface = (*NotificationService)(nil)

// NotificationService creates notification records from domain events.
type NotificationService struct {
	notificationStore store.NotificationStore
	feed              InsertPublisher
	logger            *zap.Logger
	now               func() time.Time
}

// NewNotificationService creates a producer persisting to ns and announcing on feed.
func NewNotificationService(ns store.NotificationStore, feed InsertPublisher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		notificationStore: ns,
		feed:              feed,
		logger:            logger.Named("NotificationService"),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// SupportedEvents lists the domain events that produce notifications.
func (s *NotificationService) SupportedEvents() []types.EventType {
	return []types.EventType{
		types.EventTypeParticipationRequested,
		types.EventTypeParticipationAccepted,
		types.EventTypeParticipationRejected,
		types.EventTypeEventUpdated,
		types.EventTypeEventCancelled,
	}
}

// HandleEvent fans event out into one notification per recipient.
func (s *NotificationService) HandleEvent(ctx context.Context, event types.Event) error {
	switch event.Type {
	case types.EventTypeParticipationRequested, types.EventTypeParticipationAccepted, types.EventTypeParticipationRejected:
		return s.handleParticipation(ctx, event)
	case types.EventTypeEventUpdated, types.EventTypeEventCancelled:
		return s.handleEventChanged(ctx, event)
	default:
		s.logger.Debug("Ignoring unsupported event", zap.String("eventType", string(event.Type)))
		return nil
	}
}

func (s *NotificationService) handleParticipation(ctx context.Context, event types.Event) error {
	p, err := events.DecodePayload[types.ParticipationEventPayload](event)
	if err != nil {
		return err
	}
	if p.EventID == "" || p.OwnerID == "" || p.RequesterID == "" {
		return apperrors.ValidationFailed("invalid participation event", "eventId, ownerId and requesterId are required")
	}

	var (
		recipient string
		kind      types.NotificationType
		payload   = types.NotificationPayload{EventTitle: p.EventTitle, RequestID: p.RequestID}
	)
	switch event.Type {
	case types.EventTypeParticipationRequested:
		recipient, kind = p.OwnerID, types.NotificationTypeNewRequest
		payload.ActorID, payload.ActorName = p.RequesterID, p.RequesterName
	case types.EventTypeParticipationAccepted:
		recipient, kind = p.RequesterID, types.NotificationTypeRequestAccepted
		payload.ActorID, payload.ActorName = p.OwnerID, p.OwnerName
	default:
		recipient, kind = p.RequesterID, types.NotificationTypeRequestRejected
		payload.ActorID, payload.ActorName = p.OwnerID, p.OwnerName
	}

	if recipient == payload.ActorID {
		s.logger.Debug("Skipping self notification", zap.String("eventID", p.EventID), zap.String("userID", recipient))
		return nil
	}

	_, err = s.CreateAndPublishNotification(ctx, recipient, kind, p.EventID, payload)
	return err
}

func (s *NotificationService) handleEventChanged(ctx context.Context, event types.Event) error {
	p, err := events.DecodePayload[types.EventChangedPayload](event)
	if err != nil {
		return err
	}
	if p.EventID == "" {
		return apperrors.ValidationFailed("invalid event change", "eventId is required")
	}

	kind := types.NotificationTypeEventUpdated
	if event.Type == types.EventTypeEventCancelled {
		kind = types.NotificationTypeEventCancelled
	}
	payload := types.NotificationPayload{
		EventTitle:    p.EventTitle,
		ActorID:       p.ActorID,
		ActorName:     p.ActorName,
		ChangedFields: p.ChangedFields,
	}

	seen := make(map[string]struct{}, len(p.ParticipantIDs))
	var errs []error
	for _, recipient := range p.ParticipantIDs {
		if recipient == "" || recipient == p.ActorID {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}

		if _, err := s.CreateAndPublishNotification(ctx, recipient, kind, p.EventID, payload); err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

// CreateAndPublishNotification persists a record and publishes it on the
// recipient's feed. A publish failure is only logged: the record is picked up
// by the recipient's next fetch.
func (s *NotificationService) CreateAndPublishNotification(ctx context.Context, recipientID string, notificationType types.NotificationType, eventID string, payload types.NotificationPayload) (*types.Notification, error) {
	log := s.logger.With(zap.String("recipientID", recipientID), zap.String("type", string(notificationType)))

	if recipientID == "" {
		return nil, apperrors.ValidationFailed("invalid notification", "recipient is required")
	}
	if !notificationType.IsKnown() {
		return nil, apperrors.ValidationFailed("invalid notification", fmt.Sprintf("unknown notification type %q", notificationType))
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	notification := &types.Notification{
		RecipientID: recipientID,
		Type:        notificationType,
		Payload:     payloadJSON,
		CreatedAt:   s.now(),
	}
	if eventID != "" {
		notification.EventID = &eventID
	}

	if err := s.notificationStore.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to save notification: %w", err)
	}
	log.Info("Notification created", zap.String("notificationID", notification.ID))

	if s.feed != nil {
		if err := s.feed.PublishInsert(ctx, *notification); err != nil {
			log.Warn("Failed to publish notification insert", zap.String("notificationID", notification.ID), zap.Error(err))
		}
	}
	return notification, nil
}
