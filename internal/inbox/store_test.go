package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindLoadsNotificationsAndBadges(t *testing.T) {
	f := newFixture(t)
	f.backend.set("owner",
		notif("n1", "owner", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "owner", types.NotificationTypeNewRequest, "e1", false),
		notif("n3", "owner", types.NotificationTypeEventUpdated, "e2", false),
		notif("n4", "owner", types.NotificationTypeRequestAccepted, "e3", true),
	)

	require.NoError(t, f.store.Bind(context.Background(), "owner"))

	v := f.store.View()
	assert.Equal(t, PhaseBound, v.Phase)
	assert.Equal(t, "owner", v.RecipientID)
	assert.False(t, v.Loading)
	assert.Empty(t, v.Error)
	assert.Equal(t, []string{"n1", "n2", "n3", "n4"}, ids(v.Notifications))
	assert.Equal(t, []string{"n1", "n2", "n3"}, ids(v.Unread))

	assert.Equal(t, 3, v.Badges.Total)
	assert.Equal(t, 2, v.Badges.Criados)
	assert.Equal(t, 1, v.Badges.Participo)
	assert.Equal(t, 0, v.Badges.Solicitacoes)
	assert.Equal(t, 3, v.Badges.MyEvents())
	assert.Equal(t, 2, f.store.EventBadge("e1"))
	assert.Equal(t, 1, f.store.EventBadge("e2"))
	assert.Equal(t, 0, f.store.EventBadge("e3"))
	assert.NotContains(t, v.Badges.ByEventID, "e3")
}

func TestBindRequiresRecipient(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.store.Bind(context.Background(), ""))
	assert.Equal(t, PhaseUnbound, f.store.View().Phase)
}

func TestBindSameRecipientIsNoop(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	ctx := context.Background()

	require.NoError(t, f.store.Bind(ctx, "u1"))
	require.NoError(t, f.store.Bind(ctx, "u1"))

	assert.Equal(t, 1, f.backend.fetches())
	assert.Equal(t, 1, f.subscriber.count())
}

func TestRebindClearsPreviousRecipient(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	f.backend.set("u2", notif("m1", "u2", types.NotificationTypeEventUpdated, "e9", false))
	ctx := context.Background()

	require.NoError(t, f.store.Bind(ctx, "u1"))
	first := f.subscriber.last(t)

	require.NoError(t, f.store.Bind(ctx, "u2"))
	v := f.store.View()
	assert.Equal(t, "u2", v.RecipientID)
	assert.Equal(t, []string{"m1"}, ids(v.Notifications))
	assert.Equal(t, 0, v.EventBadge("e1"))
	assert.True(t, first.isClosed())

	// An insert for the old recipient can no longer reach the store.
	first.push(notif("late", "u1", types.NotificationTypeNewRequest, "e1", false))
	f.subscriber.last(t).push(notif("m2", "u2", types.NotificationTypeEventUpdated, "e9", false))
	waitFor(t, func() bool { return len(f.store.View().Notifications) == 2 }, "insert for u2 applied")
	assert.Equal(t, []string{"m2", "m1"}, ids(f.store.View().Notifications))
}

func TestInsertPrependsAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1",
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "u1", types.NotificationTypeEventUpdated, "e2", true),
	)
	require.NoError(t, f.store.Bind(context.Background(), "u1"))
	sub := f.subscriber.last(t)

	sub.push(notif("n3", "u1", types.NotificationTypeRequestAccepted, "e3", false))
	assert.Equal(t, "n3", nextInsert(t, f.inserted).ID)

	sub.push(notif("n3", "u1", types.NotificationTypeRequestAccepted, "e3", false))
	sub.push(notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	sub.push(notif("n4", "u1", types.NotificationTypeNewRequest, "e1", false))
	assert.Equal(t, "n4", nextInsert(t, f.inserted).ID, "duplicates never reach the insert hook")

	v := f.store.View()
	assert.Equal(t, []string{"n4", "n3", "n1", "n2"}, ids(v.Notifications))
	assert.Equal(t, 3, v.Badges.Total)
	assert.Equal(t, 2, v.EventBadge("e1"))
	assert.Equal(t, 1, v.Badges.Participo)
}

func TestInsertForOtherRecipientIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Bind(context.Background(), "u1"))
	sub := f.subscriber.last(t)

	sub.push(notif("x", "someone-else", types.NotificationTypeNewRequest, "e1", false))
	sub.push(notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))

	assert.Equal(t, "n1", nextInsert(t, f.inserted).ID)
	assert.Equal(t, []string{"n1"}, ids(f.store.View().Notifications))
}

func TestInsertDuringInitialFetchIsMerged(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1",
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "u1", types.NotificationTypeNewRequest, "e1", false),
	)
	release := f.backend.block("u1")

	bound := make(chan error, 1)
	go func() { bound <- f.store.Bind(context.Background(), "u1") }()
	<-f.backend.fetchStarted

	v := f.store.View()
	assert.Equal(t, PhaseLoading, v.Phase)
	assert.True(t, v.Loading)

	sub := f.subscriber.last(t)
	sub.push(notif("n9", "u1", types.NotificationTypeEventUpdated, "e2", false))
	sub.push(notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	assert.Equal(t, "n9", nextInsert(t, f.inserted).ID)
	assert.Equal(t, "n1", nextInsert(t, f.inserted).ID)

	release()
	require.NoError(t, <-bound)

	v = f.store.View()
	assert.Equal(t, PhaseBound, v.Phase)
	assert.Equal(t, []string{"n9", "n1", "n2"}, ids(v.Notifications))
	assert.Equal(t, 3, v.Badges.Total)
}

func TestInitialFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.backend.setFetchErr(errBackend)

	err := f.store.Bind(context.Background(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackend)

	v := f.store.View()
	assert.Equal(t, PhaseFailed, v.Phase)
	assert.Empty(t, v.Notifications)
	assert.False(t, v.Loading)
	assert.Contains(t, v.Error, "backend unavailable")
	assert.True(t, f.subscriber.last(t).isClosed())
	assert.Equal(t, 0, v.Badges.Total)
}

func TestSubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.subscriber.err = errBackend

	err := f.store.Bind(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, f.store.View().Phase)
	assert.Zero(t, f.backend.fetches())
}

func TestRefetchFromFailedRebinds(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	f.backend.setFetchErr(errBackend)
	ctx := context.Background()

	require.Error(t, f.store.Bind(ctx, "u1"))
	f.backend.setFetchErr(nil)

	require.NoError(t, f.store.Refetch(ctx))
	v := f.store.View()
	assert.Equal(t, PhaseBound, v.Phase)
	assert.Empty(t, v.Error)
	assert.Equal(t, []string{"n1"}, ids(v.Notifications))
	assert.Equal(t, 2, f.subscriber.count())
	assert.False(t, f.subscriber.last(t).isClosed())
}

func TestRefetchUnbound(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.store.Refetch(context.Background()), ErrNotBound)
}

func TestRefetchReplacesCollection(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "u1"))

	f.backend.set("u1",
		notif("n2", "u1", types.NotificationTypeEventCancelled, "e1", false),
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", true),
	)
	require.NoError(t, f.store.Refetch(ctx))

	v := f.store.View()
	assert.Equal(t, []string{"n2", "n1"}, ids(v.Notifications))
	assert.Equal(t, 1, v.EventBadge("e1"))
	assert.Equal(t, 1, v.Badges.Participo)
	assert.Equal(t, 1, f.subscriber.count(), "refetch keeps the subscription")
}

func TestRefetchFailureKeepsCollection(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "u1"))

	f.backend.setFetchErr(errBackend)
	require.Error(t, f.store.Refetch(ctx))

	v := f.store.View()
	assert.Equal(t, PhaseBound, v.Phase)
	assert.False(t, v.Loading)
	assert.NotEmpty(t, v.Error)
	assert.Equal(t, []string{"n1"}, ids(v.Notifications))
	assert.False(t, f.subscriber.last(t).isClosed())

	f.backend.setFetchErr(nil)
	require.NoError(t, f.store.Refetch(ctx))
	assert.Empty(t, f.store.View().Error)
}

func TestRefetchWhileFetchInFlightReturnsImmediately(t *testing.T) {
	f := newFixture(t)
	release := f.backend.block("u1")
	defer release()

	bound := make(chan error, 1)
	go func() { bound <- f.store.Bind(context.Background(), "u1") }()
	<-f.backend.fetchStarted

	require.NoError(t, f.store.Refetch(context.Background()))
	assert.Equal(t, 1, f.backend.fetches())

	release()
	require.NoError(t, <-bound)
}

func TestMarkDuringRefetchIsReplayed(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1",
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "u1", types.NotificationTypeNewRequest, "e1", false),
	)
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "u1"))
	<-f.backend.fetchStarted

	release := f.backend.block("u1")
	refetched := make(chan error, 1)
	go func() { refetched <- f.store.Refetch(ctx) }()
	<-f.backend.fetchStarted
	assert.True(t, f.store.View().Loading)

	// The refetch result below still shows n1 unread.
	f.backend.setMarkErr(errBackend)
	require.Error(t, f.store.MarkAsRead(ctx, "n1"))
	f.backend.set("u1",
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "u1", types.NotificationTypeNewRequest, "e1", false),
	)

	release()
	require.NoError(t, <-refetched)

	v := f.store.View()
	assert.Equal(t, []string{"n2"}, ids(v.Unread))
	assert.Equal(t, 1, v.EventBadge("e1"))
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1",
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "u1", types.NotificationTypeEventUpdated, "e1", true),
	)
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "u1"))
	before := f.store.View()

	require.NoError(t, f.store.MarkAsRead(ctx, "n1"))
	v := f.store.View()
	require.True(t, v.Notifications[0].IsRead())
	assert.True(t, v.Notifications[0].ReadAt.Equal(testNow))
	assert.Equal(t, 0, v.Badges.Total)
	assert.Equal(t, 0, v.EventBadge("e1"))
	assert.Equal(t, []store.ReadFilter{store.ByID("u1", "n1")}, f.backend.markCalls())

	assert.False(t, before.Notifications[0].IsRead(), "earlier views are not mutated")

	// Already read, unknown: no persistence round trip.
	require.NoError(t, f.store.MarkAsRead(ctx, "n1"))
	require.NoError(t, f.store.MarkAsRead(ctx, "n2"))
	require.NoError(t, f.store.MarkAsRead(ctx, "missing"))
	assert.Len(t, f.backend.markCalls(), 1)
}

func TestMarkAsReadPersistenceFailureKeepsLocalState(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "u1"))
	f.backend.setMarkErr(errBackend)

	err := f.store.MarkAsRead(ctx, "n1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackend)

	v := f.store.View()
	assert.True(t, v.Notifications[0].IsRead())
	assert.Equal(t, 0, v.Badges.Total)
}

func TestMarkRequiresBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.store.MarkAsRead(ctx, "n1"), ErrNotBound)
	assert.ErrorIs(t, f.store.MarkEventAsRead(ctx, "e1"), ErrNotBound)
	assert.ErrorIs(t, f.store.MarkAllAsRead(ctx), ErrNotBound)
	assert.Empty(t, f.backend.markCalls())
}

func TestMarkEventAsRead(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1",
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n3", "u1", types.NotificationTypeEventUpdated, "e2", false),
	)
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "u1"))

	require.NoError(t, f.store.MarkEventAsRead(ctx, "e1"))
	v := f.store.View()
	assert.Equal(t, 0, v.EventBadge("e1"))
	assert.Equal(t, 1, v.EventBadge("e2"))
	assert.Equal(t, []string{"n3"}, ids(v.Unread))

	// Nothing unread locally for e1 any more, the filtered update still runs.
	require.NoError(t, f.store.MarkEventAsRead(ctx, "e1"))
	require.NoError(t, f.store.MarkEventAsRead(ctx, "unknown-event"))
	assert.Equal(t, []store.ReadFilter{
		store.ByEvent("u1", "e1"),
		store.ByEvent("u1", "e1"),
		store.ByEvent("u1", "unknown-event"),
	}, f.backend.markCalls())

	assert.Error(t, f.store.MarkEventAsRead(ctx, ""))
}

func TestMarkAllAsRead(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1",
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "u1", types.NotificationTypeRequestRejected, "", false),
		notif("n3", "u1", types.NotificationTypeEventUpdated, "e2", true),
	)
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "u1"))
	readAt := *f.store.View().Notifications[2].ReadAt

	require.NoError(t, f.store.MarkAllAsRead(ctx))
	v := f.store.View()
	assert.Empty(t, v.Unread)
	assert.Equal(t, 0, v.Badges.Total)
	assert.Empty(t, v.Badges.ByEventID)
	assert.True(t, v.Notifications[2].ReadAt.Equal(readAt), "read_at is never overwritten")

	require.NoError(t, f.store.MarkAllAsRead(ctx))
	assert.Equal(t, []store.ReadFilter{store.AllUnread("u1"), store.AllUnread("u1")}, f.backend.markCalls())
}

func TestUnbind(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "u1"))

	require.NoError(t, f.store.Unbind(ctx))
	v := f.store.View()
	assert.Equal(t, PhaseUnbound, v.Phase)
	assert.Empty(t, v.RecipientID)
	assert.Empty(t, v.Notifications)
	assert.Equal(t, 0, v.Badges.Total)
	assert.True(t, f.subscriber.last(t).isClosed())
}

func TestStaleFetchDiscardedAfterRebind(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	f.backend.set("u2", notif("m1", "u2", types.NotificationTypeEventUpdated, "e2", false))
	release := f.backend.block("u1")

	first := make(chan error, 1)
	go func() { first <- f.store.Bind(context.Background(), "u1") }()
	<-f.backend.fetchStarted

	require.NoError(t, f.store.Bind(context.Background(), "u2"))
	release()
	require.NoError(t, <-first)

	v := f.store.View()
	assert.Equal(t, "u2", v.RecipientID)
	assert.Equal(t, []string{"m1"}, ids(v.Notifications))
}

func TestWatch(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.store.Bind(ctx, "u1"))

	views, err := f.store.Watch(ctx)
	require.NoError(t, err)

	first := <-views
	assert.Equal(t, 1, first.Badges.Total)

	require.NoError(t, f.store.MarkAsRead(ctx, "n1"))
	f.subscriber.last(t).push(notif("n2", "u1", types.NotificationTypeNewRequest, "e1", false))
	nextInsert(t, f.inserted)

	// Only the latest view is buffered.
	latest := <-views
	assert.Equal(t, []string{"n2", "n1"}, ids(latest.Notifications))
	assert.Equal(t, 1, latest.Badges.Total)

	cancel()
	waitFor(t, func() bool {
		select {
		case _, ok := <-views:
			return !ok
		default:
			return false
		}
	}, "watch channel closed after cancel")
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Bind(context.Background(), "u1"))
	views, err := f.store.Watch(context.Background())
	require.NoError(t, err)
	<-views

	require.NoError(t, f.store.Close())
	require.NoError(t, f.store.Close())

	assert.True(t, f.subscriber.last(t).isClosed())
	for range views {
	}
	assert.ErrorIs(t, f.store.Bind(context.Background(), "u2"), ErrClosed)
	assert.ErrorIs(t, f.store.MarkAllAsRead(context.Background()), ErrClosed)
}

func TestScenarioMarkEventThenRealtimeInsert(t *testing.T) {
	f := newFixture(t)
	f.backend.set("owner",
		notif("n1", "owner", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "owner", types.NotificationTypeNewRequest, "e1", false),
		notif("n3", "owner", types.NotificationTypeEventUpdated, "e2", false),
	)
	ctx := context.Background()
	require.NoError(t, f.store.Bind(ctx, "owner"))

	require.NoError(t, f.store.MarkEventAsRead(ctx, "e1"))
	f.subscriber.last(t).push(types.Notification{
		ID:          "n5",
		RecipientID: "owner",
		Type:        types.NotificationTypeRequestRejected,
		CreatedAt:   testNow,
	})
	nextInsert(t, f.inserted)

	v := f.store.View()
	assert.Equal(t, 2, v.Badges.Total)
	assert.Equal(t, 0, v.Badges.Criados)
	assert.Equal(t, 1, v.Badges.Participo)
	assert.Equal(t, 1, v.Badges.Solicitacoes)
	assert.Equal(t, map[string]int{"e2": 1}, v.Badges.ByEventID)
	assert.Equal(t, time.Duration(0), v.Notifications[0].CreatedAt.Sub(testNow))
}

func TestMarkAsReadDuringInitialLoadIsReplayed(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1",
		notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false),
		notif("n2", "u1", types.NotificationTypeEventUpdated, "e2", false),
	)
	f.backend.setMarkErr(errBackend)
	release := f.backend.block("u1")

	bound := make(chan error, 1)
	go func() { bound <- f.store.Bind(context.Background(), "u1") }()
	<-f.backend.fetchStarted

	err := f.store.MarkAsRead(context.Background(), "n1")
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, []store.ReadFilter{store.ByID("u1", "n1")}, f.backend.markCalls())

	release()
	require.NoError(t, <-bound)

	v := f.store.View()
	assert.Equal(t, []string{"n2"}, ids(v.Unread))
	assert.Equal(t, 1, v.Badges.Total)
	assert.Equal(t, 0, f.store.EventBadge("e1"))
}

func TestFeedClosedByTransportFailsStore(t *testing.T) {
	f := newFixture(t)
	f.backend.set("u1", notif("n1", "u1", types.NotificationTypeNewRequest, "e1", false))
	ctx := context.Background()

	require.NoError(t, f.store.Bind(ctx, "u1"))
	first := f.subscriber.last(t)
	require.NoError(t, first.Close())

	waitFor(t, func() bool { return f.store.View().Phase == PhaseFailed }, "store should fail once its feed ends")
	v := f.store.View()
	assert.Equal(t, ErrFeedLost.Error(), v.Error)
	assert.Equal(t, []string{"n1"}, ids(v.Notifications))

	require.NoError(t, f.store.Refetch(ctx))
	v = f.store.View()
	assert.Equal(t, PhaseBound, v.Phase)
	assert.Empty(t, v.Error)
	require.Equal(t, 2, f.subscriber.count())

	second := f.subscriber.last(t)
	assert.NotSame(t, first, second)
	second.push(notif("n2", "u1", types.NotificationTypeEventUpdated, "e2", false))
	assert.Equal(t, "n2", nextInsert(t, f.inserted).ID)
	waitFor(t, func() bool { return len(f.store.View().Notifications) == 2 }, "insert on the new feed should land")
	assert.Equal(t, []string{"n2", "n1"}, ids(f.store.View().Notifications))
}

func TestUnbindDoesNotReportFeedLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Bind(ctx, "u1"))
	require.NoError(t, f.store.Unbind(ctx))
	assert.True(t, f.subscriber.last(t).isClosed())

	require.Never(t, func() bool { return f.store.View().Phase != PhaseUnbound }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, f.store.View().Error)
}
