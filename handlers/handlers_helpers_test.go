package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/eventcrew/eventcrew-backend/config"
	"github.com/eventcrew/eventcrew-backend/internal/badge"
	"github.com/eventcrew/eventcrew-backend/internal/events"
	"github.com/eventcrew/eventcrew-backend/internal/inbox"
	"github.com/eventcrew/eventcrew-backend/internal/session"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/middleware"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testUserHeader = "X-Test-User"

var handlerNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func init() {
	logger.IsTest = true
	gin.SetMode(gin.TestMode)
}

// memNotifications is an in-memory NotificationStore.
type memNotifications struct {
	mu       sync.Mutex
	rows     map[string][]types.Notification
	fetchErr error
	markErr  error
	marks    []store.ReadFilter
}

func newMemNotifications() *memNotifications {
	return &memNotifications{rows: make(map[string][]types.Notification)}
}

func (m *memNotifications) seed(ns ...types.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range ns {
		m.rows[n.RecipientID] = append(m.rows[n.RecipientID], n)
	}
}

func (m *memNotifications) setFetchErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

func (m *memNotifications) setMarkErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markErr = err
}

func (m *memNotifications) markCalls() []store.ReadFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.ReadFilter(nil), m.marks...)
}

func (m *memNotifications) Create(ctx context.Context, n *types.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[n.RecipientID] = append([]types.Notification{*n}, m.rows[n.RecipientID]...)
	return nil
}

func (m *memNotifications) FetchByRecipient(ctx context.Context, recipientID string, limit int) ([]types.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	src := m.rows[recipientID]
	if len(src) > limit {
		src = src[:limit]
	}
	return append([]types.Notification(nil), src...), nil
}

func (m *memNotifications) MarkRead(ctx context.Context, filter store.ReadFilter, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks = append(m.marks, filter)
	if m.markErr != nil {
		return 0, m.markErr
	}
	var changed int64
	ns := m.rows[filter.RecipientID]
	for i := range ns {
		n := &ns[i]
		if filter.ID != "" && n.ID != filter.ID {
			continue
		}
		if filter.EventID != "" && !n.HasEvent(filter.EventID) {
			continue
		}
		if n.MarkRead(at) {
			changed++
		}
	}
	return changed, nil
}

type handlerFixture struct {
	router   *gin.Engine
	manager  *session.Manager
	rows     *memNotifications
	feed     *events.NotificationFeed
	notifs   *NotificationHandler
	sessions *SessionHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	f := &handlerFixture{rows: newMemNotifications()}
	f.feed = events.NewNotificationFeed(events.NewMemoryPublisher(16), 16)
	f.manager = session.NewManager(f.rows, f.feed, nil, nil, inbox.Config{
		FetchLimit: 50,
		Now:        func() time.Time { return handlerNow },
	})
	t.Cleanup(func() { _ = f.manager.Shutdown(context.Background()) })

	f.notifs = NewNotificationHandler(f.manager, badge.DefaultPolicy())
	f.notifs.now = func() time.Time { return handlerNow }
	f.sessions = NewSessionHandler(f.manager)
	stream := NewNotificationStreamHandler(f.manager, &config.ServerConfig{Environment: config.EnvDevelopment})

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader(testUserHeader); id != "" {
			c.Set(string(middleware.UserIDKey), id)
		}
		c.Next()
	})

	r.POST("/session", f.sessions.OpenSession)
	r.DELETE("/session", f.sessions.CloseSession)
	r.PUT("/session/app-state", f.sessions.SetAppState)

	r.GET("/notifications", f.notifs.ListNotifications)
	r.GET("/notifications/unread", f.notifs.ListUnread)
	r.GET("/notifications/badges", f.notifs.GetBadges)
	r.GET("/notifications/stream", stream.HandleStream)
	r.POST("/notifications/refetch", f.notifs.Refetch)
	r.PATCH("/notifications/read-all", f.notifs.MarkAllAsRead)
	r.PATCH("/notifications/:id/read", f.notifs.MarkAsRead)
	r.GET("/notifications/events/:eventId/badge", f.notifs.GetEventBadge)
	r.GET("/notifications/categories/:category/badge", f.notifs.GetCategoryBadge)
	r.PATCH("/notifications/events/:eventId/read", f.notifs.MarkEventAsRead)

	f.router = r
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf *bytes.Buffer
	switch b := body.(type) {
	case nil:
		buf = &bytes.Buffer{}
	case []byte:
		buf = bytes.NewBuffer(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		buf = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) open(t *testing.T, user string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/session", user, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func testNotification(recipient string, typ types.NotificationType, eventID string, age time.Duration) types.Notification {
	n := types.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipient,
		Type:        typ,
		CreatedAt:   handlerNow.Add(-age),
	}
	if eventID != "" {
		e := eventID
		n.EventID = &e
	}
	return n
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
