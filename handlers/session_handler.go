package handlers

import (
	"errors"
	"net/http"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/internal/inbox"
	"github.com/eventcrew/eventcrew-backend/internal/session"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// App states reported by the client.
const (
	AppStateForeground = "foreground"
	AppStateBackground = "background"
)

// SessionHandler opens and closes notification sessions and records the
// client's app state.
type SessionHandler struct {
	sessions SessionManager
	log      *zap.SugaredLogger
}

func NewSessionHandler(sessions SessionManager) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      logger.GetLogger().Named("session_handler"),
	}
}

// OpenSessionRequest carries the optional push target of the device.
type OpenSessionRequest struct {
	DeviceToken string `json:"deviceToken"`
}

// AppStateRequest reports whether the client app is visible.
type AppStateRequest struct {
	State string `json:"state" binding:"required,oneof=foreground background"`
}

// AppStateResponse echoes the effective foreground status.
type AppStateResponse struct {
	State      string `json:"state"`
	Foreground bool   `json:"foreground"`
}

// OpenSession binds the caller's inbox and returns its view. Opening an
// already open session is a no-op apart from updating the device token.
// A failed initial fetch still opens the session; the view's phase and error
// fields report it.
func (h *SessionHandler) OpenSession(c *gin.Context) {
	userID := getUserIDFromContext(c)
	if userID == "" {
		_ = c.Error(apperrors.AuthenticationFailed("Authorization required"))
		return
	}

	var req OpenSessionRequest
	if c.Request.ContentLength > 0 && !bindJSONOrError(c, &req) {
		return
	}

	sess, err := h.sessions.Open(c.Request.Context(), userID, req.DeviceToken)
	if err != nil {
		if errors.Is(err, session.ErrShuttingDown) || sess == nil {
			_ = c.Error(apperrors.NewError(apperrors.ServerError, "shutting_down", "Service is shutting down", http.StatusServiceUnavailable))
			return
		}
		h.log.Warnw("Session opened with failed fetch",
			"userID", userID,
			"device", logger.MaskSensitiveString(req.DeviceToken, 6, 3),
			"error", err)
	}

	c.JSON(http.StatusCreated, sess.Store.View())
}

// CloseSession logs the caller out of realtime delivery.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	userID := getUserIDFromContext(c)
	if err := h.sessions.Close(userID); err != nil && !errors.Is(err, inbox.ErrClosed) {
		_ = c.Error(apperrors.Wrap(err, apperrors.ServerError, "Failed to close session"))
		return
	}
	c.Status(http.StatusNoContent)
}

// SetAppState records the client's foreground status, which decides whether
// realtime notifications are also shown as system notifications.
func (h *SessionHandler) SetAppState(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}

	var req AppStateRequest
	if !bindJSONOrError(c, &req) {
		return
	}

	sess.AppState.Set(req.State == AppStateForeground)
	c.JSON(http.StatusOK, AppStateResponse{
		State:      req.State,
		Foreground: sess.AppState.IsForeground(),
	})
}
