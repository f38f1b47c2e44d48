package store

import (
	"context"
	"fmt"
	"time"

	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/google/uuid"
)

// ReadFilter selects the unread notifications of one recipient to mark as read.
// With ID set it targets a single record, with EventID set every unread record
// of that event, and with neither every unread record of the recipient.
type ReadFilter struct {
	RecipientID string
	ID          string
	EventID     string
}

// ByID targets one notification.
func ByID(recipientID, id string) ReadFilter {
	return ReadFilter{RecipientID: recipientID, ID: id}
}

// ByEvent targets every unread notification of an event.
func ByEvent(recipientID, eventID string) ReadFilter {
	return ReadFilter{RecipientID: recipientID, EventID: eventID}
}

// AllUnread targets every unread notification of the recipient.
func AllUnread(recipientID string) ReadFilter {
	return ReadFilter{RecipientID: recipientID}
}

// Validate rejects filters without a recipient, with both ID and EventID set,
// or with an ID that is not a UUID.
func (f ReadFilter) Validate() error {
	if f.RecipientID == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidFilter)
	}
	if f.ID != "" && f.EventID != "" {
		return fmt.Errorf("%w: id and event id are mutually exclusive", ErrInvalidFilter)
	}
	if f.ID != "" {
		if _, err := uuid.Parse(f.ID); err != nil {
			return fmt.Errorf("%w: id %q is not a uuid", ErrInvalidFilter, f.ID)
		}
	}
	return nil
}

// NotificationStore persists notification records. Implementations only ever
// move read_at from NULL to a timestamp.
type NotificationStore interface {
	// Create inserts n and fills in ID and CreatedAt when they are empty.
	Create(ctx context.Context, n *types.Notification) error
	// FetchByRecipient returns at most limit records, newest first.
	FetchByRecipient(ctx context.Context, recipientID string, limit int) ([]types.Notification, error)
	// MarkRead sets read_at = at on the unread records the filter selects and
	// returns how many changed.
	MarkRead(ctx context.Context, filter ReadFilter, at time.Time) (int64, error)
}

// InsertSubscription delivers notifications created for one recipient.
// Delivery is at-least-once. Close is idempotent and closes the channel.
type InsertSubscription interface {
	Inserts() <-chan types.Notification
	Close() error
}

// InsertSubscriber opens realtime insert subscriptions.
type InsertSubscriber interface {
	SubscribeInserts(ctx context.Context, recipientID string) (InsertSubscription, error)
}
