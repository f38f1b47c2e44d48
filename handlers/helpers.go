package handlers

import (
	"errors"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/internal/inbox"
	"github.com/eventcrew/eventcrew-backend/internal/session"
	"github.com/eventcrew/eventcrew-backend/middleware"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/gin-gonic/gin"
)

func getUserIDFromContext(c *gin.Context) string {
	return middleware.UserID(c)
}

// bindJSONOrError binds the JSON body and records a validation error when it
// does not bind. Callers return when it reports false.
func bindJSONOrError(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid_request_payload", err.Error()))
		return false
	}
	return true
}

// currentSession returns the caller's open session or records a
// session-not-open error.
func currentSession(c *gin.Context, sessions SessionManager) (*session.Session, bool) {
	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.AuthenticationFailed("Authorization required"))
		return nil, false
	}
	sess, ok := sessions.Get(userID)
	if !ok {
		_ = c.Error(apperrors.SessionNotOpen(userID))
		return nil, false
	}
	return sess, true
}

// inboxError converts a store error into the error rendered to the client.
func inboxError(recipientID string, err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, inbox.ErrNotBound), errors.Is(err, inbox.ErrClosed):
		return apperrors.SessionNotOpen(recipientID)
	case errors.Is(err, store.ErrInvalidFilter):
		return apperrors.ValidationFailed("invalid read filter", err.Error())
	default:
		return apperrors.Wrap(err, apperrors.ServerError, "notification operation failed")
	}
}
