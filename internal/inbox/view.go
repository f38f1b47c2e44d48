package inbox

import (
	"github.com/eventcrew/eventcrew-backend/types"
)

// Phase is the binding state of a Store.
type Phase string

const (
	PhaseUnbound Phase = "unbound"
	PhaseLoading Phase = "loading"
	PhaseBound   Phase = "bound"
	PhaseFailed  Phase = "failed"
)

// View is an immutable snapshot of a Store, recomputed after every mutation.
// Notifications and Unread are newest first.
type View struct {
	RecipientID   string               `json:"recipientId,omitempty"`
	Phase         Phase                `json:"phase"`
	Notifications []types.Notification `json:"notifications"`
	Unread        []types.Notification `json:"unread"`
	Badges        types.BadgeSnapshot  `json:"badges"`
	Loading       bool                 `json:"loading"`
	Error         string               `json:"error,omitempty"`
}

// EventBadge returns the unread count for eventID.
func (v View) EventBadge(eventID string) int {
	return v.Badges.ForEvent(eventID)
}
