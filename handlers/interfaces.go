package handlers

import (
	"context"

	"github.com/eventcrew/eventcrew-backend/internal/session"
)

// SessionManager is the part of session.Manager the handlers use.
type SessionManager interface {
	Open(ctx context.Context, recipientID, device string) (*session.Session, error)
	Get(recipientID string) (*session.Session, bool)
	Close(recipientID string) error
}

var _ SessionManager = (*session.Manager)(nil)
