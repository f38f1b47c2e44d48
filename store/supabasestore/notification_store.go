// Package supabasestore implements the notification store on a hosted Supabase
// project through its PostgREST API.
package supabasestore

import (
	"context"
	"fmt"
	"time"

	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

const notificationsTable = "notifications"

const selectColumns = "id,recipient_id,type,event_id,payload,read_at,created_at"

// Ensure supabaseNotificationStore implements store.NotificationStore.
var _ store.NotificationStore = (*supabaseNotificationStore)(nil)

type supabaseNotificationStore struct {
	client *supabase.Client
}

// NewClient connects a Supabase client with the service role key.
func NewClient(url, serviceKey string) (*supabase.Client, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{Schema: "public"})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return client, nil
}

// NewNotificationStore creates a PostgREST-backed notification store.
func NewNotificationStore(client *supabase.Client) store.NotificationStore {
	return &supabaseNotificationStore{client: client}
}

// Create inserts n and reads back the assigned id and timestamp.
// PostgREST calls are not cancellable, ctx is only checked up front.
func (s *supabaseNotificationStore) Create(ctx context.Context, n *types.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.RecipientID == "" {
		return fmt.Errorf("create notification: recipient is required")
	}

	row := map[string]any{
		"recipient_id": n.RecipientID,
		"type":         n.Type,
		"event_id":     n.EventID,
	}
	if len(n.Payload) > 0 {
		row["payload"] = n.Payload
	}
	if n.ID != "" {
		row["id"] = n.ID
	}
	if !n.CreatedAt.IsZero() {
		row["created_at"] = n.CreatedAt
	}

	var inserted []types.Notification
	if _, err := s.client.From(notificationsTable).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&inserted); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	if len(inserted) != 1 {
		return fmt.Errorf("create notification: expected 1 row, got %d", len(inserted))
	}
	*n = inserted[0]
	return nil
}

// FetchByRecipient returns the newest limit notifications of recipientID.
func (s *supabaseNotificationStore) FetchByRecipient(ctx context.Context, recipientID string, limit int) ([]types.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []types.Notification{}, nil
	}

	out := []types.Notification{}
	if _, err := s.client.From(notificationsTable).
		Select(selectColumns, "", false).
		Eq("recipient_id", recipientID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&out); err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	return out, nil
}

// MarkRead stamps read_at on the unread rows selected by filter. The number of
// changed rows is taken from the returned representation.
func (s *supabaseNotificationStore) MarkRead(ctx context.Context, filter store.ReadFilter, at time.Time) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q := s.client.From(notificationsTable).
		Update(map[string]any{"read_at": at.UTC()}, "representation", "").
		Eq("recipient_id", filter.RecipientID).
		Is("read_at", "null")
	switch {
	case filter.ID != "":
		q = q.Eq("id", filter.ID)
	case filter.EventID != "":
		q = q.Eq("event_id", filter.EventID)
	}

	var updated []struct {
		ID string `json:"id"`
	}
	if _, err := q.ExecuteTo(&updated); err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}

	logger.GetLogger().Debugw("Marked notifications read via supabase",
		"recipientID", filter.RecipientID,
		"rows", len(updated))
	return int64(len(updated)), nil
}
