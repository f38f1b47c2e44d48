package types

import (
	"encoding/json"
	"time"
)

// NotificationType identifies the domain event that produced a notification.
type NotificationType string

const (
	NotificationTypeNewRequest      NotificationType = "new_request"
	NotificationTypeRequestAccepted NotificationType = "request_accepted"
	NotificationTypeRequestRejected NotificationType = "request_rejected"
	NotificationTypeEventUpdated    NotificationType = "event_updated"
	NotificationTypeEventCancelled  NotificationType = "event_cancelled"
)

// KnownNotificationTypes lists every type the application produces.
var KnownNotificationTypes = []NotificationType{
	NotificationTypeNewRequest,
	NotificationTypeRequestAccepted,
	NotificationTypeRequestRejected,
	NotificationTypeEventUpdated,
	NotificationTypeEventCancelled,
}

// IsKnown reports whether t is one of the types produced by the application.
func (t NotificationType) IsKnown() bool {
	for _, known := range KnownNotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Category is the UI bucket a notification is counted under.
type Category string

const (
	// CategoryCriados holds things the user created and must act on.
	CategoryCriados Category = "criados"
	// CategoryParticipo holds changes to things the user participates in.
	CategoryParticipo Category = "participo"
	// CategorySolicitacoes holds responses to requests the user made.
	CategorySolicitacoes Category = "solicitacoes"
	// CategoryOther is never surfaced as a counted badge.
	CategoryOther Category = "other"
)

// NamedCategories are the categories that carry a visible badge.
var NamedCategories = []Category{CategoryCriados, CategoryParticipo, CategorySolicitacoes}

// IsValid reports whether c is one of the four defined categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryCriados, CategoryParticipo, CategorySolicitacoes, CategoryOther:
		return true
	}
	return false
}

// Notification represents one event-triggered message directed at a single recipient.
// Every field except ReadAt is immutable once the record exists.
type Notification struct {
	ID          string           `json:"id" db:"id"`
	RecipientID string           `json:"recipient_id" db:"recipient_id"`
	Type        NotificationType `json:"type" db:"type"`
	EventID     *string          `json:"event_id,omitempty" db:"event_id"`
	Payload     json.RawMessage  `json:"payload,omitempty" db:"payload"` // carried through untouched
	ReadAt      *time.Time       `json:"read_at,omitempty" db:"read_at"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// IsRead reports whether the notification has been read.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// MarkRead moves the notification from unread to read at the given time.
// It returns false and leaves the record untouched when it was already read.
func (n *Notification) MarkRead(at time.Time) bool {
	if n.ReadAt != nil {
		return false
	}
	readAt := at
	n.ReadAt = &readAt
	return true
}

// HasEvent reports whether the notification relates to the given event.
func (n *Notification) HasEvent(eventID string) bool {
	return n.EventID != nil && *n.EventID == eventID
}

// NotificationPayload is the display payload written by the notification producer.
type NotificationPayload struct {
	EventTitle    string   `json:"eventTitle,omitempty"`
	ActorID       string   `json:"actorId,omitempty"`
	ActorName     string   `json:"actorName,omitempty"`
	RequestID     string   `json:"requestId,omitempty"`
	ChangedFields []string `json:"changedFields,omitempty"`
}

// BadgeSnapshot holds the unread counters derived from a notification collection.
// It is recomputed on every change and never mutated in place.
type BadgeSnapshot struct {
	Total        int            `json:"total"`
	Criados      int            `json:"criados"`
	Participo    int            `json:"participo"`
	Solicitacoes int            `json:"solicitacoes"`
	Other        int            `json:"-"`
	ByEventID    map[string]int `json:"byEventId"`
}

// MyEvents is the sum of the three named category counters.
func (b BadgeSnapshot) MyEvents() int {
	return b.Criados + b.Participo + b.Solicitacoes
}

// ForEvent returns the unread count for an event, zero when the event has none.
func (b BadgeSnapshot) ForEvent(eventID string) int {
	return b.ByEventID[eventID]
}

// ForCategory returns the unread count for a category.
func (b BadgeSnapshot) ForCategory(c Category) int {
	switch c {
	case CategoryCriados:
		return b.Criados
	case CategoryParticipo:
		return b.Participo
	case CategorySolicitacoes:
		return b.Solicitacoes
	case CategoryOther:
		return b.Other
	}
	return 0
}

// MarshalJSON adds the derived myEvents counter.
func (b BadgeSnapshot) MarshalJSON() ([]byte, error) {
	type alias BadgeSnapshot
	byEvent := b.ByEventID
	if byEvent == nil {
		byEvent = map[string]int{}
	}
	a := alias(b)
	a.ByEventID = byEvent
	return json.Marshal(struct {
		alias
		MyEvents int `json:"myEvents"`
	}{alias: a, MyEvents: b.MyEvents()})
}

// RequestStatus is the state of a participation request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
)

// ParticipationRequest is a user's request to join an event, as shown in request lists.
type ParticipationRequest struct {
	ID        string        `json:"id"`
	EventID   string        `json:"event_id"`
	UserID    string        `json:"user_id"`
	Status    RequestStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}
