package handlers

import (
	"errors"
	"net/http"
	"slices"
	"time"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/internal/badge"
	"github.com/eventcrew/eventcrew-backend/internal/inbox"
	"github.com/eventcrew/eventcrew-backend/internal/session"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationHandler serves the caller's inbox: lists, badges and read marks.
type NotificationHandler struct {
	sessions SessionManager
	policy   badge.Policy
	now      func() time.Time
	log      *zap.SugaredLogger
}

// NewNotificationHandler creates a handler. policy decides which
// notifications ?visible=true keeps.
func NewNotificationHandler(sessions SessionManager, policy badge.Policy) *NotificationHandler {
	return &NotificationHandler{
		sessions: sessions,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.GetLogger().Named("notification_handler"),
	}
}

// NotificationListResponse is the body of the list endpoints.
type NotificationListResponse struct {
	Notifications []types.Notification `json:"notifications"`
	Phase         inbox.Phase          `json:"phase"`
	Loading       bool                 `json:"loading"`
	Error         string               `json:"error,omitempty"`
}

// EventBadgeResponse is the unread count of one event.
type EventBadgeResponse struct {
	EventID string `json:"eventId"`
	Unread  int    `json:"unread"`
}

// MarkReadResponse is the body of the read endpoints. A read mark the
// backend did not accept is still applied to the inbox and is picked up again
// by the next refetch, so it is reported as a warning rather than an error.
type MarkReadResponse struct {
	Badges    types.BadgeSnapshot `json:"badges"`
	Persisted bool                `json:"persisted"`
	Warning   string              `json:"warning,omitempty"`
}

// CategoryBadgeResponse is the unread count of one named category.
type CategoryBadgeResponse struct {
	Category types.Category `json:"category"`
	Unread   int            `json:"unread"`
}

func listResponse(v inbox.View, ns []types.Notification) NotificationListResponse {
	if ns == nil {
		ns = []types.Notification{}
	}
	return NotificationListResponse{
		Notifications: ns,
		Phase:         v.Phase,
		Loading:       v.Loading,
		Error:         v.Error,
	}
}

// ListNotifications returns the cached collection, newest first. With
// ?visible=true rejected-request notifications older than the retention
// window are left out.
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}

	v := sess.Store.View()
	ns := v.Notifications
	if c.Query("visible") == "true" {
		ns = h.policy.VisibleNotifications(ns, h.now())
	}
	c.JSON(http.StatusOK, listResponse(v, ns))
}

// ListUnread returns the unread subset.
func (h *NotificationHandler) ListUnread(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}
	v := sess.Store.View()
	c.JSON(http.StatusOK, listResponse(v, v.Unread))
}

// GetBadges returns the badge snapshot.
func (h *NotificationHandler) GetBadges(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Store.View().Badges)
}

// GetEventBadge returns the unread count of one event; unknown events are 0.
func (h *NotificationHandler) GetEventBadge(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}
	eventID := c.Param("eventId")
	c.JSON(http.StatusOK, EventBadgeResponse{
		EventID: eventID,
		Unread:  sess.Store.EventBadge(eventID),
	})
}

// GetCategoryBadge returns the unread count of criados, participo or
// solicitacoes. The other bucket has no badge and is rejected.
func (h *NotificationHandler) GetCategoryBadge(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}
	category := types.Category(c.Param("category"))
	if !slices.Contains(types.NamedCategories, category) {
		_ = c.Error(apperrors.ValidationFailed("Invalid category", string(category)))
		return
	}
	c.JSON(http.StatusOK, CategoryBadgeResponse{
		Category: category,
		Unread:   sess.Store.View().Badges.ForCategory(category),
	})
}

// Refetch reloads the collection from persistence and returns the new
// collection. A failed fetch keeps the previous collection and is reported
// in the body's error field.
func (h *NotificationHandler) Refetch(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}

	if err := sess.Store.Refetch(c.Request.Context()); err != nil {
		h.log.Warnw("Refetch failed", "userID", sess.RecipientID, "error", err)
	}
	v := sess.Store.View()
	c.JSON(http.StatusOK, listResponse(v, v.Notifications))
}

// MarkAsRead marks one notification read and returns the new badges.
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		_ = c.Error(apperrors.ValidationFailed("Invalid notification ID format", id))
		return
	}

	h.respondRead(c, sess, sess.Store.MarkAsRead(c.Request.Context(), id))
}

// MarkEventAsRead marks every unread notification of an event read.
func (h *NotificationHandler) MarkEventAsRead(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}

	h.respondRead(c, sess, sess.Store.MarkEventAsRead(c.Request.Context(), c.Param("eventId")))
}

// MarkAllAsRead marks every unread notification read.
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	sess, ok := currentSession(c, h.sessions)
	if !ok {
		return
	}

	h.respondRead(c, sess, sess.Store.MarkAllAsRead(c.Request.Context()))
}

// respondRead answers a read mark. Persistence failures keep the local mark
// and come back as a 200 with a warning; anything else is an error.
func (h *NotificationHandler) respondRead(c *gin.Context, sess *session.Session, err error) {
	resp := MarkReadResponse{Persisted: err == nil}
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) || appErr.Type != apperrors.TransportError {
			_ = c.Error(inboxError(sess.RecipientID, err))
			return
		}
		h.log.Warnw("Read mark not persisted", "userID", sess.RecipientID, "error", err)
		resp.Warning = "read state not saved yet, it will sync on the next refresh"
	}
	resp.Badges = sess.Store.View().Badges
	c.JSON(http.StatusOK, resp)
}
