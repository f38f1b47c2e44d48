package badge

import (
	"time"

	"github.com/eventcrew/eventcrew-backend/types"
)

// DefaultWindow is how long a decaying notification stays visible.
const DefaultWindow = 7 * 24 * time.Hour

// Policy hides decaying notification types once their status timestamp is
// older than Window. Non-decaying types are always visible.
type Policy struct {
	Window   time.Duration
	Decaying map[types.NotificationType]bool
}

// DefaultPolicy decays request_rejected only, after seven days.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultWindow)
}

// NewPolicy returns the default decaying set with a custom window.
func NewPolicy(window time.Duration) Policy {
	return Policy{
		Window: window,
		Decaying: map[types.NotificationType]bool{
			types.NotificationTypeRequestRejected: true,
		},
	}
}

// IsVisible reports whether an item of type t whose status last changed at
// statusAt should be shown at now. The boundary is inclusive.
func (p Policy) IsVisible(t types.NotificationType, statusAt, now time.Time) bool {
	if !p.Decaying[t] {
		return true
	}
	return now.Sub(statusAt) <= p.Window
}

// NotificationVisible applies the policy using the notification's creation time.
func (p Policy) NotificationVisible(n types.Notification, now time.Time) bool {
	return p.IsVisible(n.Type, n.CreatedAt, now)
}

// RequestVisible applies the policy to a participation request. Only rejected
// requests decay, measured from the request's own last update.
func (p Policy) RequestVisible(req types.ParticipationRequest, now time.Time) bool {
	if req.Status != types.RequestStatusRejected {
		return true
	}
	return p.IsVisible(types.NotificationTypeRequestRejected, req.UpdatedAt, now)
}

// Retain returns the items for which visible reports true, in input order.
// The input slice is not modified.
func Retain[T any](items []T, now time.Time, visible func(T, time.Time) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if visible(it, now) {
			out = append(out, it)
		}
	}
	return out
}

// VisibleNotifications is Retain over notifications with p.
func (p Policy) VisibleNotifications(ns []types.Notification, now time.Time) []types.Notification {
	return Retain(ns, now, p.NotificationVisible)
}

// VisibleRequests is Retain over participation requests with p.
func (p Policy) VisibleRequests(reqs []types.ParticipationRequest, now time.Time) []types.ParticipationRequest {
	return Retain(reqs, now, p.RequestVisible)
}
