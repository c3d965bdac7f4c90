// ABOUTME: SQLite persistence for notification records
// ABOUTME: Rows record every permitted send attempt; mark-read is idempotent

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateNotification inserts a notification row.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, message, channel, status, read_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var readAt any
	if n.ReadAt != nil {
		readAt = *n.ReadAt
	}

	_, err := s.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.Channel,
		n.Status,
		readAt,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	s.logger.Debug("created notification", "id", n.ID, "user_id", n.UserID, "status", n.Status)
	return nil
}

// ListNotifications retrieves all of a user's notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string) ([]*Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, channel, status, read_at, created_at, updated_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var readAt sql.NullInt64

		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.Channel,
			&n.Status,
			&readAt,
			&n.CreatedAt,
			&n.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}

		if readAt.Valid {
			n.ReadAt = &readAt.Int64
		}

		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}

	return notifications, nil
}

// MarkNotificationRead sets a notification's status to read. Idempotent: a
// second call leaves the original read_at in place. A non-empty userID scopes
// the update to that user's notifications; the path-keyed HTTP endpoint
// passes an empty userID.
// Returns ErrNotFound if no matching notification exists.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	now := time.Now().Unix()
	query := `
		UPDATE notifications
		SET status = 'read', read_at = COALESCE(read_at, ?), updated_at = ?
		WHERE id = ? AND (? = '' OR user_id = ?)
	`

	result, err := s.db.ExecContext(ctx, query, now, now, id, userID, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("marked notification read", "id", id)
	return nil
}
