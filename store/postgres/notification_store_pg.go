// Package postgres implements the notification store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	notificationsTable = "notifications"
	uniqueViolation    = "23505"
)

var notificationColumns = []string{
	"id::text", "recipient_id", "type", "event_id", "payload", "read_at", "created_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Ensure pgNotificationStore implements store.NotificationStore.
var _ store.NotificationStore = (*pgNotificationStore)(nil)

type pgNotificationStore struct {
	db Querier
}

// NewPgNotificationStore creates a PostgreSQL notification store.
func NewPgNotificationStore(db Querier) store.NotificationStore {
	return &pgNotificationStore{db: db}
}

// Create inserts n. An empty ID lets the database assign one.
func (s *pgNotificationStore) Create(ctx context.Context, n *types.Notification) error {
	if n.RecipientID == "" {
		return fmt.Errorf("create notification: recipient is required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	payload := []byte(n.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	cols := []string{"recipient_id", "type", "event_id", "payload", "created_at"}
	vals := []any{n.RecipientID, string(n.Type), n.EventID, payload, n.CreatedAt}
	if n.ID != "" {
		cols = append([]string{"id"}, cols...)
		vals = append([]any{n.ID}, vals...)
	}

	query, args, err := psql.Insert(notificationsTable).
		Columns(cols...).
		Values(vals...).
		Suffix("RETURNING id::text, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create notification query: %w", err)
	}

	if err := s.db.QueryRow(ctx, query, args...).Scan(&n.ID, &n.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("notification %s already exists: %w", n.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	n.Payload = payload
	return nil
}

// FetchByRecipient returns the newest limit notifications of recipientID.
func (s *pgNotificationStore) FetchByRecipient(ctx context.Context, recipientID string, limit int) ([]types.Notification, error) {
	if limit <= 0 {
		return []types.Notification{}, nil
	}

	query, args, err := psql.Select(notificationColumns...).
		From(notificationsTable).
		Where(sq.Eq{"recipient_id": recipientID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch notifications query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]types.Notification, 0, limit)
	for rows.Next() {
		var (
			n       types.Notification
			typ     string
			payload []byte
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &typ, &n.EventID, &payload, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		n.Type = types.NotificationType(typ)
		n.Payload = payload
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration for notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead stamps read_at on the unread rows selected by filter.
func (s *pgNotificationStore) MarkRead(ctx context.Context, filter store.ReadFilter, at time.Time) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}

	update := psql.Update(notificationsTable).
		Set("read_at", at).
		Where(sq.Eq{"recipient_id": filter.RecipientID}).
		Where(sq.Eq{"read_at": nil})
	switch {
	case filter.ID != "":
		update = update.Where(sq.Eq{"id": filter.ID})
	case filter.EventID != "":
		update = update.Where(sq.Eq{"event_id": filter.EventID})
	}

	query, args, err := update.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build mark read query: %w", err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	return tag.RowsAffected(), nil
}
