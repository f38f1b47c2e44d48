// Package session keeps one inbox per signed-in recipient.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eventcrew/eventcrew-backend/internal/inbox"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"go.uber.org/zap"
)

// ErrShuttingDown is returned by Open once Shutdown has started.
var ErrShuttingDown = errors.New("session manager is shutting down")

// Session is the server side of one signed-in client: its notification
// store, its foreground tracker and the gate presenting realtime inserts.
type Session struct {
	RecipientID string
	Store       *inbox.Store
	AppState    *inbox.AppState
	OpenedAt    time.Time

	gate atomic.Pointer[inbox.DeliveryGate]
}

// Gate returns the delivery gate for the session's current device.
func (s *Session) Gate() *inbox.DeliveryGate {
	return s.gate.Load()
}

func (s *Session) deliver(n types.Notification) {
	if g := s.gate.Load(); g != nil {
		g.Deliver(n)
	}
}

// Manager owns the sessions. Sessions are keyed by recipient, so a second
// device signing in as the same recipient shares the session and replaces
// its push device.
type Manager struct {
	log         *zap.SugaredLogger
	persistence store.NotificationStore
	subscriber  store.InsertSubscriber
	presenter   inbox.Presenter
	dispatcher  inbox.Dispatcher
	storeCfg    inbox.Config

	mu           sync.RWMutex
	sessions     map[string]*Session
	closed       bool
	shutdownOnce sync.Once
}

// NewManager creates a manager. presenter and dispatcher may be nil; without
// a presenter no system notification is ever shown.
func NewManager(persistence store.NotificationStore, subscriber store.InsertSubscriber, presenter inbox.Presenter, dispatcher inbox.Dispatcher, storeCfg inbox.Config) *Manager {
	return &Manager{
		log:         logger.GetLogger().Named("session_manager"),
		persistence: persistence,
		subscriber:  subscriber,
		presenter:   presenter,
		dispatcher:  dispatcher,
		storeCfg:    storeCfg,
		sessions:    make(map[string]*Session),
	}
}

// Open returns the recipient's session, creating and binding it when needed.
// A bind failure is returned together with the session: the store stays in
// the failed phase and a refetch retries it.
func (m *Manager) Open(ctx context.Context, recipientID, device string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}

	sess, ok := m.sessions[recipientID]
	if !ok {
		sess = &Session{
			RecipientID: recipientID,
			AppState:    inbox.NewAppState(),
			OpenedAt:    time.Now().UTC(),
		}
		cfg := m.storeCfg
		cfg.OnInsert = sess.deliver
		sess.Store = inbox.NewStore(m.persistence, m.subscriber, cfg)
		m.sessions[recipientID] = sess
	}
	if !ok || (device != "" && device != m.gateDevice(sess)) {
		sess.gate.Store(inbox.NewDeliveryGate(m.presenter, sess.AppState, m.dispatcher, device))
	}
	m.mu.Unlock()

	if !ok {
		m.log.Infow("Session opened",
			"recipientID", recipientID,
			"hasDevice", device != "")
	}

	if err := sess.Store.Bind(ctx, recipientID); err != nil {
		m.log.Warnw("Session bind failed", "recipientID", recipientID, "error", err)
		return sess, err
	}
	return sess, nil
}

func (m *Manager) gateDevice(sess *Session) string {
	if g := sess.Gate(); g != nil {
		return g.Device()
	}
	return ""
}

// Get returns the recipient's open session.
func (m *Manager) Get(recipientID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[recipientID]
	return sess, ok
}

// Close ends the recipient's session: the store unbinds and stops. Closing
// an unknown recipient is a no-op.
func (m *Manager) Close(recipientID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[recipientID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, recipientID)
	m.mu.Unlock()

	m.log.Infow("Session closed", "recipientID", recipientID)
	return sess.Store.Close()
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session and refuses new ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		sessions := make([]*Session, 0, len(m.sessions))
		for _, sess := range m.sessions {
			sessions = append(sessions, sess)
		}
		m.sessions = make(map[string]*Session)
		m.mu.Unlock()

		for _, sess := range sessions {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			if err := sess.Store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		m.log.Infow("Session manager shutdown complete", "sessions", len(sessions))
	})
	return errors.Join(errs...)
}
