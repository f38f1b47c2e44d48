// Package inbox holds the per-recipient notification state: the Store that
// caches a recipient's notifications and derives badges from them, and the
// DeliveryGate deciding when a realtime record also becomes a system
// notification.
package inbox

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/internal/badge"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("inbox store closed")
	// ErrNotBound is returned by operations that need a recipient.
	ErrNotBound = errors.New("inbox store has no recipient")
	// ErrFeedLost is the error of a store whose insert subscription ended
	// without the store closing it.
	ErrFeedLost = errors.New("notification feed closed by transport")
)

// Config tunes a Store.
type Config struct {
	// FetchLimit caps the number of records a fetch loads.
	FetchLimit int
	// Aggregator derives badges; the zero value uses the default mapping.
	Aggregator badge.Aggregator
	// OnInsert is called from the mutation loop for every new realtime
	// record. It must not block.
	OnInsert func(types.Notification)
	// Now is the clock used for optimistic read timestamps.
	Now func() time.Time
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		FetchLimit: 100,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Store is the in-memory notification collection of one recipient.
//
// Every state change runs as a closure on a single loop goroutine, so
// realtime inserts, fetch results and optimistic read marks never interleave.
// Persistence and transport calls run on the caller's goroutine, outside the
// loop; their results re-enter the loop tagged with the bind generation and
// are discarded when the recipient changed meanwhile.
type Store struct {
	persistence store.NotificationStore
	subscriber  store.InsertSubscriber
	cfg         Config
	log         *zap.SugaredLogger
	metrics     *metrics

	ops    chan func()
	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool

	current atomic.Pointer[View]

	// Loop-owned state.
	recipientID string
	phase       Phase
	generation  uint64
	items       []types.Notification
	ids         map[string]struct{}
	lastErr     error
	sub         store.InsertSubscription
	stopPump    chan struct{}
	fetch       *fetchState
	fetchSeq    uint64
	watchers    map[int]chan View
	nextWatch   int
}

// fetchState tracks one in-flight fetch. Inserts and read marks that land
// while it runs are replayed over its result.
type fetchState struct {
	seq     uint64
	inserts []types.Notification
	marks   []func(*types.Notification) bool
}

// NewStore creates an unbound store and starts its mutation loop.
func NewStore(persistence store.NotificationStore, subscriber store.InsertSubscriber, cfg Config) *Store {
	defaults := DefaultConfig()
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = defaults.FetchLimit
	}
	if cfg.Now == nil {
		cfg.Now = defaults.Now
	}

	s := &Store{
		persistence: persistence,
		subscriber:  subscriber,
		cfg:         cfg,
		log:         logger.GetLogger().Named("inbox"),
		metrics:     getMetrics(),
		ops:         make(chan func()),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		phase:       PhaseUnbound,
		ids:         make(map[string]struct{}),
		watchers:    make(map[int]chan View),
	}
	s.publish()
	s.metrics.activeStores.Inc()

	go s.loop()
	return s
}

func (s *Store) loop() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			for id, ch := range s.watchers {
				close(ch)
				delete(s.watchers, id)
			}
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (s *Store) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.ops <- op:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Bind loads recipientID's notifications and subscribes to their inserts.
// Binding the current recipient again is a no-op unless the store failed.
// Any previous recipient's collection is cleared before loading starts.
func (s *Store) Bind(ctx context.Context, recipientID string) error {
	if recipientID == "" {
		return apperrors.ValidationFailed("invalid recipient", "recipient id is required")
	}

	var (
		gen     uint64
		old     store.InsertSubscription
		already bool
	)
	if err := s.do(ctx, func() {
		if s.recipientID == recipientID && (s.phase == PhaseLoading || s.phase == PhaseBound) {
			already = true
			return
		}
		old = s.detachLocked()
		gen = s.resetLocked(recipientID)
		s.publish()
	}); err != nil {
		return err
	}
	closeSubscription(old, s.log)
	if already {
		return nil
	}

	return s.bind(ctx, gen, recipientID)
}

// bind subscribes, then fetches. Subscribing first means no insert made
// during the fetch is lost: those arrive on the loop while the fetch is in
// flight and are merged into its result.
func (s *Store) bind(ctx context.Context, gen uint64, recipientID string) error {
	sub, err := s.subscriber.SubscribeInserts(ctx, recipientID)
	if err != nil {
		s.metrics.fetchFailures.Inc()
		_ = s.do(context.Background(), func() {
			if gen != s.generation {
				return
			}
			s.failLocked(err)
			s.publish()
		})
		return apperrors.NewTransportError("subscribe to notifications", err)
	}

	var (
		stale bool
		seq   uint64
	)
	if err := s.do(context.Background(), func() {
		if gen != s.generation {
			stale = true
			return
		}
		s.attachLocked(gen, sub)
		seq = s.fetch.seq
	}); err != nil || stale {
		closeSubscription(sub, s.log)
		return err
	}

	return s.runFetch(ctx, gen, seq, recipientID)
}

// runFetch loads the newest records and applies them on the loop. A failure
// during the initial load tears the subscription down and leaves the store
// failed and empty; a failure on refetch keeps the current collection.
func (s *Store) runFetch(ctx context.Context, gen, seq uint64, recipientID string) error {
	fetched, fetchErr := s.persistence.FetchByRecipient(ctx, recipientID, s.cfg.FetchLimit)

	var (
		toClose store.InsertSubscription
		result  error
	)
	err := s.do(context.Background(), func() {
		if gen != s.generation || s.fetch == nil || s.fetch.seq != seq {
			return
		}
		pending := s.fetch
		s.fetch = nil

		if fetchErr != nil {
			s.metrics.fetchFailures.Inc()
			s.lastErr = fetchErr
			result = apperrors.NewTransportError("fetch notifications", fetchErr)
			if s.phase == PhaseLoading {
				toClose = s.detachLocked()
				s.phase = PhaseFailed
				s.items = nil
				s.ids = make(map[string]struct{})
			}
			s.publish()
			return
		}

		s.applyFetchLocked(fetched, pending)
		s.phase = PhaseBound
		s.lastErr = nil
		s.publish()
	})
	closeSubscription(toClose, s.log)
	if err != nil {
		return err
	}
	if result != nil {
		s.log.Warnw("Notification fetch failed", "recipientID", recipientID, "error", fetchErr)
	}
	return result
}

// Refetch replaces the collection with the persisted snapshot. A failed
// store rebinds from scratch; a store with a fetch in flight returns at once.
func (s *Store) Refetch(ctx context.Context) error {
	var (
		gen       uint64
		seq       uint64
		recipient string
		rebind    bool
		skip      bool
		old       store.InsertSubscription
	)
	if err := s.do(ctx, func() {
		switch s.phase {
		case PhaseUnbound:
			return
		case PhaseLoading:
			skip = true
			return
		case PhaseFailed:
			rebind = true
			recipient = s.recipientID
			old = s.detachLocked()
			gen = s.resetLocked(recipient)
		case PhaseBound:
			recipient = s.recipientID
			if s.fetch != nil {
				skip = true
				return
			}
			gen = s.generation
			seq = s.startFetchLocked()
		}
		s.publish()
	}); err != nil {
		return err
	}

	switch {
	case skip:
		return nil
	case recipient == "":
		return ErrNotBound
	case rebind:
		closeSubscription(old, s.log)
		return s.bind(ctx, gen, recipient)
	}
	return s.runFetch(ctx, gen, seq, recipient)
}

// Unbind clears the recipient, its collection and its subscription.
func (s *Store) Unbind(ctx context.Context) error {
	var old store.InsertSubscription
	if err := s.do(ctx, func() {
		old = s.detachLocked()
		s.generation++
		s.recipientID = ""
		s.phase = PhaseUnbound
		s.items = nil
		s.ids = make(map[string]struct{})
		s.lastErr = nil
		s.fetch = nil
		s.publish()
	}); err != nil {
		return err
	}
	closeSubscription(old, s.log)
	return nil
}

// MarkAsRead marks one record read. Unknown or already-read ids are a no-op.
// While the initial load runs the collection is still empty, so the mark is
// persisted and replayed over the loaded records instead.
// The local change is kept even when persisting it fails.
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	var (
		recipient string
		at        time.Time
		changed   bool
	)
	mark := func(n *types.Notification) bool {
		return n.ID == id && n.MarkRead(at)
	}
	if err := s.do(ctx, func() {
		recipient = s.recipientID
		if recipient == "" {
			return
		}
		at = s.cfg.Now()
		loading := s.phase == PhaseLoading && s.fetch != nil
		changed = s.applyMarkLocked(mark, loading) > 0
		if changed {
			s.publish()
		}
		changed = changed || loading
	}); err != nil {
		return err
	}
	if recipient == "" {
		return ErrNotBound
	}
	if !changed {
		return nil
	}
	return s.persistRead(ctx, store.ByID(recipient, id), at, "single")
}

// MarkEventAsRead marks every unread record of eventID read. The filtered
// persistence update is always issued because the local window is capped.
func (s *Store) MarkEventAsRead(ctx context.Context, eventID string) error {
	if eventID == "" {
		return apperrors.ValidationFailed("invalid event", "event id is required")
	}
	return s.markMany(ctx, func(recipient string) store.ReadFilter {
		return store.ByEvent(recipient, eventID)
	}, func(n *types.Notification) bool {
		return n.HasEvent(eventID)
	}, "event")
}

// MarkAllAsRead marks every unread record of the recipient read.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	return s.markMany(ctx, store.AllUnread, func(*types.Notification) bool { return true }, "all")
}

func (s *Store) markMany(ctx context.Context, filter func(string) store.ReadFilter, match func(*types.Notification) bool, scope string) error {
	var (
		recipient string
		at        time.Time
	)
	mark := func(n *types.Notification) bool {
		return match(n) && n.MarkRead(at)
	}
	if err := s.do(ctx, func() {
		recipient = s.recipientID
		if recipient == "" {
			return
		}
		at = s.cfg.Now()
		if s.applyMarkLocked(mark, true) > 0 {
			s.publish()
		}
	}); err != nil {
		return err
	}
	if recipient == "" {
		return ErrNotBound
	}
	return s.persistRead(ctx, filter(recipient), at, scope)
}

func (s *Store) persistRead(ctx context.Context, filter store.ReadFilter, at time.Time, scope string) error {
	if _, err := s.persistence.MarkRead(ctx, filter, at); err != nil {
		s.metrics.readMutationsFailed.WithLabelValues(scope).Inc()
		s.log.Warnw("Failed to persist read state, keeping local state",
			"recipientID", filter.RecipientID,
			"scope", scope,
			"error", err)
		return apperrors.NewTransportError("mark notifications read", err)
	}
	return nil
}

// View returns the latest snapshot.
func (s *Store) View() View {
	return *s.current.Load()
}

// EventBadge returns the unread count for eventID.
func (s *Store) EventBadge(eventID string) int {
	return s.current.Load().EventBadge(eventID)
}

// Watch streams views, starting with the current one. Slow readers only see
// the latest view. The channel closes when ctx ends or the store closes.
func (s *Store) Watch(ctx context.Context) (<-chan View, error) {
	ch := make(chan View, 1)
	var id int
	if err := s.do(ctx, func() {
		id = s.nextWatch
		s.nextWatch++
		s.watchers[id] = ch
		ch <- *s.current.Load()
	}); err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.do(context.Background(), func() {
				if w, ok := s.watchers[id]; ok {
					delete(s.watchers, id)
					close(w)
				}
			})
		case <-s.done:
		}
	}()
	return ch, nil
}

// Close unbinds and stops the loop. It is safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.Unbind(context.Background())
	close(s.quit)
	<-s.done
	s.metrics.activeStores.Dec()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// --- loop-only helpers ---

func (s *Store) resetLocked(recipientID string) uint64 {
	s.generation++
	s.recipientID = recipientID
	s.phase = PhaseLoading
	s.items = nil
	s.ids = make(map[string]struct{})
	s.lastErr = nil
	s.startFetchLocked()
	return s.generation
}

func (s *Store) startFetchLocked() uint64 {
	s.fetchSeq++
	s.fetch = &fetchState{seq: s.fetchSeq}
	return s.fetchSeq
}

func (s *Store) failLocked(err error) {
	s.phase = PhaseFailed
	s.lastErr = err
	s.fetch = nil
	s.items = nil
	s.ids = make(map[string]struct{})
}

func (s *Store) attachLocked(gen uint64, sub store.InsertSubscription) {
	stop := make(chan struct{})
	s.sub = sub
	s.stopPump = stop
	go s.pump(gen, sub, stop)
}

// detachLocked stops the insert pump and hands the subscription to the
// caller, which closes it off the loop.
func (s *Store) detachLocked() store.InsertSubscription {
	if s.stopPump != nil {
		close(s.stopPump)
		s.stopPump = nil
	}
	sub := s.sub
	s.sub = nil
	return sub
}

func (s *Store) pump(gen uint64, sub store.InsertSubscription, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case n, ok := <-sub.Inserts():
			if !ok {
				s.feedEnded(gen, stop)
				return
			}
			op := func() { s.applyInsertLocked(gen, n) }
			select {
			case s.ops <- op:
			case <-stop:
				return
			case <-s.quit:
				return
			}
		}
	}
}

// feedEnded reports a subscription the transport closed. Nothing is posted
// when the store itself stopped the pump.
func (s *Store) feedEnded(gen uint64, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	default:
	}
	select {
	case s.ops <- func() { s.feedLostLocked(gen) }:
	case <-stop:
	case <-s.quit:
	}
}

// feedLostLocked fails a store whose insert feed died so that the next
// Refetch rebinds with a fresh subscription. The collection is kept.
func (s *Store) feedLostLocked(gen uint64) {
	if gen != s.generation || s.sub == nil {
		return
	}
	sub := s.detachLocked()
	go closeSubscription(sub, s.log)

	s.metrics.feedsLost.Inc()
	s.log.Warnw("Insert subscription ended", "recipientID", s.recipientID)
	s.phase = PhaseFailed
	s.lastErr = ErrFeedLost
	s.fetch = nil
	s.publish()
}

func (s *Store) applyInsertLocked(gen uint64, n types.Notification) {
	if gen != s.generation || n.ID == "" || n.RecipientID != s.recipientID {
		return
	}

	if s.fetch != nil {
		for _, p := range s.fetch.inserts {
			if p.ID == n.ID {
				s.metrics.duplicateInserts.Inc()
				return
			}
		}
	}
	if _, dup := s.ids[n.ID]; dup {
		s.metrics.duplicateInserts.Inc()
		return
	}

	if s.fetch != nil {
		s.fetch.inserts = append(s.fetch.inserts, n)
	}
	if s.phase == PhaseBound {
		s.prependLocked(n)
	}
	s.metrics.insertsApplied.Inc()

	if s.phase == PhaseBound {
		s.publish()
	}
	if s.cfg.OnInsert != nil {
		s.cfg.OnInsert(n)
	}
}

func (s *Store) prependLocked(n types.Notification) {
	items := make([]types.Notification, 0, len(s.items)+1)
	items = append(items, n)
	s.items = append(items, s.items...)
	s.ids[n.ID] = struct{}{}
}

// applyFetchLocked installs fetched as the collection, then replays what
// happened while the fetch ran: inserts it does not contain are prepended in
// arrival order and local read marks are re-applied.
func (s *Store) applyFetchLocked(fetched []types.Notification, pending *fetchState) {
	s.items = make([]types.Notification, 0, len(fetched))
	s.ids = make(map[string]struct{}, len(fetched))
	for _, n := range fetched {
		if _, dup := s.ids[n.ID]; dup {
			continue
		}
		s.items = append(s.items, n)
		s.ids[n.ID] = struct{}{}
	}

	for _, n := range pending.inserts {
		if _, dup := s.ids[n.ID]; dup {
			continue
		}
		s.prependLocked(n)
	}
	for _, mark := range pending.marks {
		for i := range s.items {
			mark(&s.items[i])
		}
	}
}

// applyMarkLocked applies mark to every record in place and returns the
// number of records that changed. The mark is remembered for an in-flight
// fetch when it changed something or when always is set.
func (s *Store) applyMarkLocked(mark func(*types.Notification) bool, always bool) int {
	changed := 0
	for i := range s.items {
		if mark(&s.items[i]) {
			changed++
		}
	}
	if s.fetch != nil && (always || changed > 0) {
		s.fetch.marks = append(s.fetch.marks, mark)
	}
	return changed
}

// publish recomputes the view and offers it to every watcher.
func (s *Store) publish() {
	items := make([]types.Notification, len(s.items))
	copy(items, s.items)

	v := View{
		RecipientID:   s.recipientID,
		Phase:         s.phase,
		Notifications: items,
		Unread:        badge.Unread(items),
		Badges:        s.cfg.Aggregator.Aggregate(items),
		Loading:       s.fetch != nil,
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	s.current.Store(&v)

	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func closeSubscription(sub store.InsertSubscription, log *zap.SugaredLogger) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		log.Warnw("Failed to close insert subscription", "error", err)
	}
}
