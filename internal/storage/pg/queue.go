package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PendingNotifications returns queued rows awaiting dispatch, oldest first.
func (st *Store) PendingNotifications(ctx context.Context) ([]QueuedNotification, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT id, user_id, category, title, body, url, image_url, data, created_at
		FROM notification_queue
		WHERE status = 'pending'
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending notifications: %w", err)
	}
	defer rows.Close()

	var out []QueuedNotification
	for rows.Next() {
		var n QueuedNotification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Category, &n.Title, &n.Body, &n.URL, &n.ImageURL, &n.Data, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationSent flips a queued row to sent. "Sent" here means a
// dispatch attempt was issued; per-subscription success or failure lives
// in the delivery log.
func (st *Store) MarkNotificationSent(ctx context.Context, id uuid.UUID) error {
	if _, err := st.db.ExecContext(ctx, `
		UPDATE notification_queue SET status = 'sent', sent_at = now() WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// EnqueueNotification adds a pending row. Used by the storefront-facing
// surface; the scheduler only drains.
func (st *Store) EnqueueNotification(ctx context.Context, n QueuedNotification) (uuid.UUID, error) {
	var id uuid.UUID
	err := st.db.QueryRowContext(ctx, `
		INSERT INTO notification_queue (user_id, category, title, body, url, image_url, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		n.UserID, n.Category, n.Title, n.Body, n.URL, n.ImageURL, n.Data,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return id, nil
}
