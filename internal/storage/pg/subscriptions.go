package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const subscriptionColumns = `id, user_id, endpoint, p256dh_key, auth_secret,
	order_updates, promotions, daily_reminder, profit_alerts,
	reminder_time::text, last_reminder_at, notifications_sent, last_sent_at, created_at`

func scanSubscription(row interface{ Scan(...any) error }) (Subscription, error) {
	var s Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.Endpoint, &s.P256dhKey, &s.AuthSecret,
		&s.OrderUpdates, &s.Promotions, &s.DailyReminder, &s.ProfitAlerts,
		&s.ReminderTime, &s.LastReminderAt, &s.NotificationsSent, &s.LastSentAt, &s.CreatedAt,
	)
	return s, err
}

func (st *Store) collectSubscriptions(rows *sql.Rows) ([]Subscription, error) {
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// UpsertSubscription creates or refreshes a device registration. A
// re-subscribe from the same endpoint replaces the key material and
// preferences without losing the send counters.
func (st *Store) UpsertSubscription(ctx context.Context, params CreateSubscriptionParams) (Subscription, error) {
	var reminderTime any
	if params.ReminderTime != "" {
		reminderTime = params.ReminderTime
	}

	row := st.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (user_id, endpoint, p256dh_key, auth_secret,
			order_updates, promotions, daily_reminder, profit_alerts, reminder_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			p256dh_key = EXCLUDED.p256dh_key,
			auth_secret = EXCLUDED.auth_secret,
			order_updates = EXCLUDED.order_updates,
			promotions = EXCLUDED.promotions,
			daily_reminder = EXCLUDED.daily_reminder,
			profit_alerts = EXCLUDED.profit_alerts,
			reminder_time = EXCLUDED.reminder_time
		RETURNING `+subscriptionColumns,
		params.UserID, params.Endpoint, params.P256dhKey, params.AuthSecret,
		params.OrderUpdates, params.Promotions, params.DailyReminder, params.ProfitAlerts,
		reminderTime,
	)

	s, err := scanSubscription(row)
	if err != nil {
		return Subscription{}, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return s, nil
}

// DeleteSubscriptionByEndpoint removes a registration. Deleting an
// endpoint that is already gone is not an error: the prune on 410 may
// race with another in-flight request doing the same.
func (st *Store) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := st.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE endpoint = $1`, endpoint); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// SubscriptionsByUserIDs fetches all registrations owned by the given users.
func (st *Store) SubscriptionsByUserIDs(ctx context.Context, userIDs []string) ([]Subscription, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = ANY($1)`,
		pq.Array(userIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions by user ids: %w", err)
	}
	return st.collectSubscriptions(rows)
}

// preferenceColumns whitelists the boolean flags a preference filter may
// name. Filter names come from request payloads and must never be
// interpolated into SQL unchecked.
var preferenceColumns = map[string]string{
	"order_updates":  "order_updates",
	"promotions":     "promotions",
	"daily_reminder": "daily_reminder",
	"profit_alerts":  "profit_alerts",
}

// SubscriptionsByPreference fetches all registrations, optionally limited
// to those with the named boolean preference enabled. An empty filter
// returns everything.
func (st *Store) SubscriptionsByPreference(ctx context.Context, preferenceFilter string) ([]Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`

	if preferenceFilter != "" {
		column, ok := preferenceColumns[preferenceFilter]
		if !ok {
			return nil, fmt.Errorf("unknown preference filter %q", preferenceFilter)
		}
		query += ` WHERE ` + column
	}

	rows, err := st.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	return st.collectSubscriptions(rows)
}

// SubscriptionsWithReminderDue returns registrations whose reminder
// time-of-day falls within +/- window of now and that have not been
// reminded yet today. The window comparison wraps across midnight.
func (st *Store) SubscriptionsWithReminderDue(ctx context.Context, now time.Time, window time.Duration) ([]Subscription, error) {
	lower := now.Add(-window).Format("15:04:05")
	upper := now.Add(window).Format("15:04:05")

	timeCond := `reminder_time BETWEEN $1 AND $2`
	if lower > upper {
		// Window crosses midnight.
		timeCond = `(reminder_time >= $1 OR reminder_time <= $2)`
	}

	rows, err := st.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE daily_reminder
		  AND reminder_time IS NOT NULL
		  AND `+timeCond+`
		  AND (last_reminder_at IS NULL OR last_reminder_at < date_trunc('day', now()))`,
		lower, upper,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return st.collectSubscriptions(rows)
}

// MarkReminderIssued stamps the registrations so the next tick inside the
// same window does not re-issue their reminder.
func (st *Store) MarkReminderIssued(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := st.db.ExecContext(ctx, `
		UPDATE subscriptions SET last_reminder_at = now() WHERE id = ANY($1)`,
		pq.Array(ids),
	); err != nil {
		return fmt.Errorf("failed to mark reminders issued: %w", err)
	}
	return nil
}

// RecordDeliverySuccess bumps a subscription's send counters after the
// relay accepted a message.
func (st *Store) RecordDeliverySuccess(ctx context.Context, id uuid.UUID) error {
	if _, err := st.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET notifications_sent = notifications_sent + 1, last_sent_at = now()
		WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to record delivery success: %w", err)
	}
	return nil
}
