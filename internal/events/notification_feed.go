package events

import (
	"context"
	"sync"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const notificationScopePrefix = "notifications:"

// NotificationScope is the pub/sub scope carrying inserts for one recipient.
func NotificationScope(recipientID string) string {
	return notificationScopePrefix + recipientID
}

var _ store.InsertSubscriber = (*NotificationFeed)(nil)

// NotificationFeed is the realtime insert stream: the producer publishes every
// persisted notification and inbox stores subscribe per recipient.
type NotificationFeed struct {
	publisher types.EventPublisher
	buffer    int
	log       *zap.SugaredLogger
}

// NewNotificationFeed creates a feed on publisher. buffer sizes each
// subscriber's delivery channel.
func NewNotificationFeed(publisher types.EventPublisher, buffer int) *NotificationFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &NotificationFeed{
		publisher: publisher,
		buffer:    buffer,
		log:       logger.GetLogger().Named("notification_feed"),
	}
}

// PublishInsert announces a persisted notification to its recipient's subscribers.
func (f *NotificationFeed) PublishInsert(ctx context.Context, n types.Notification) error {
	return PublishEvent(ctx, f.publisher, types.EventTypeNotificationCreated,
		NotificationScope(n.RecipientID), n.RecipientID, "notification_feed",
		types.NotificationCreatedEvent{Timestamp: n.CreatedAt, Notification: n})
}

// SubscribeInserts opens an insert stream for recipientID. The subscription is
// live when this returns.
func (f *NotificationFeed) SubscribeInserts(ctx context.Context, recipientID string) (store.InsertSubscription, error) {
	sub := &feedSubscription{
		publisher:    f.publisher,
		scope:        NotificationScope(recipientID),
		subscriberID: uuid.NewString(),
		recipientID:  recipientID,
		out:          make(chan types.Notification, f.buffer),
		done:         make(chan struct{}),
		log:          f.log,
	}

	in, err := f.publisher.Subscribe(ctx, sub.scope, sub.subscriberID, types.EventTypeNotificationCreated)
	if err != nil {
		return nil, err
	}

	sub.wg.Add(1)
	go sub.pump(in)
	return sub, nil
}

type feedSubscription struct {
	publisher    types.EventPublisher
	scope        string
	subscriberID string
	recipientID  string
	out          chan types.Notification
	done         chan struct{}
	once         sync.Once
	wg           sync.WaitGroup
	closeErr     error
	log          *zap.SugaredLogger
}

func (s *feedSubscription) Inserts() <-chan types.Notification {
	return s.out
}

// Close stops the stream. Inserts is closed once Close returns.
func (s *feedSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.closeErr = s.publisher.Unsubscribe(context.Background(), s.scope, s.subscriberID)
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *feedSubscription) pump(in <-chan types.Event) {
	defer s.wg.Done()
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-in:
			if !ok {
				return
			}
			created, err := DecodePayload[types.NotificationCreatedEvent](event)
			if err != nil {
				s.log.Warnw("Dropping malformed insert", "eventID", event.ID, "error", err)
				continue
			}
			if created.Notification.RecipientID != s.recipientID || created.Notification.ID == "" {
				continue
			}
			select {
			case s.out <- created.Notification:
			case <-s.done:
				return
			}
		}
	}
}
