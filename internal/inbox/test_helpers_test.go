package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
	resetMetricsForTesting()
}

var (
	testNow    = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	errBackend = errors.New("backend unavailable")
)

func notif(id, recipient string, typ types.NotificationType, eventID string, read bool) types.Notification {
	n := types.Notification{
		ID:          id,
		RecipientID: recipient,
		Type:        typ,
		CreatedAt:   testNow.Add(-time.Hour),
	}
	if eventID != "" {
		e := eventID
		n.EventID = &e
	}
	if read {
		at := testNow.Add(-time.Minute)
		n.ReadAt = &at
	}
	return n
}

// fakeStore is an in-memory NotificationStore. Fetches for a recipient in
// blocked wait until the channel is closed and return the data present then.
type fakeStore struct {
	mu           sync.Mutex
	data         map[string][]types.Notification
	fetchErr     error
	markErr      error
	blocked      map[string]chan struct{}
	fetchStarted chan string
	fetchCalls   int
	marks        []store.ReadFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data:         make(map[string][]types.Notification),
		blocked:      make(map[string]chan struct{}),
		fetchStarted: make(chan string, 16),
	}
}

func (f *fakeStore) set(recipient string, ns ...types.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[recipient] = ns
}

func (f *fakeStore) block(recipient string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocked[recipient] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.blocked, recipient)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeStore) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeStore) setMarkErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markErr = err
}

func (f *fakeStore) Create(ctx context.Context, n *types.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[n.RecipientID] = append([]types.Notification{*n}, f.data[n.RecipientID]...)
	return nil
}

func (f *fakeStore) FetchByRecipient(ctx context.Context, recipientID string, limit int) ([]types.Notification, error) {
	f.mu.Lock()
	f.fetchCalls++
	gate := f.blocked[recipientID]
	f.mu.Unlock()

	f.fetchStarted <- recipientID
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	src := f.data[recipientID]
	if len(src) > limit {
		src = src[:limit]
	}
	out := make([]types.Notification, len(src))
	copy(out, src)
	return out, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, filter store.ReadFilter, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, filter)
	if f.markErr != nil {
		return 0, f.markErr
	}
	var changed int64
	ns := f.data[filter.RecipientID]
	for i := range ns {
		n := &ns[i]
		switch {
		case filter.ID != "" && n.ID != filter.ID:
			continue
		case filter.EventID != "" && !n.HasEvent(filter.EventID):
			continue
		}
		if n.MarkRead(at) {
			changed++
		}
	}
	return changed, nil
}

func (f *fakeStore) markCalls() []store.ReadFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.ReadFilter, len(f.marks))
	copy(out, f.marks)
	return out
}

func (f *fakeStore) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

type fakeSub struct {
	recipientID string
	mu          sync.Mutex
	ch          chan types.Notification
	closed      bool
}

func (s *fakeSub) Inserts() <-chan types.Notification { return s.ch }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *fakeSub) push(n types.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.ch <- n
	}
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSubscriber struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

func (f *fakeSubscriber) SubscribeInserts(ctx context.Context, recipientID string) (store.InsertSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := &fakeSub{recipientID: recipientID, ch: make(chan types.Notification, 16)}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSubscriber) last(t *testing.T) *fakeSub {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.subs)
	return f.subs[len(f.subs)-1]
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type storeFixture struct {
	store      *Store
	backend    *fakeStore
	subscriber *fakeSubscriber
	inserted   chan types.Notification
}

func newFixture(t *testing.T) *storeFixture {
	t.Helper()
	f := &storeFixture{
		backend:    newFakeStore(),
		subscriber: &fakeSubscriber{},
		inserted:   make(chan types.Notification, 16),
	}
	f.store = NewStore(f.backend, f.subscriber, Config{
		FetchLimit: 50,
		Now:        func() time.Time { return testNow },
		OnInsert:   func(n types.Notification) { f.inserted <- n },
	})
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func ids(ns []types.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func nextInsert(t *testing.T, ch <-chan types.Notification) types.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for insert")
		return types.Notification{}
	}
}
