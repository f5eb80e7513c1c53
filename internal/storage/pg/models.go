package pg

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Subscription is one device's push registration. Uniquely identified by
// its transport endpoint.
type Subscription struct {
	ID                uuid.UUID
	UserID            string
	Endpoint          string
	P256dhKey         string
	AuthSecret        string
	OrderUpdates      bool
	Promotions        bool
	DailyReminder     bool
	ProfitAlerts      bool
	ReminderTime      sql.NullString // "HH:MM:SS" time-of-day
	LastReminderAt    sql.NullTime
	NotificationsSent int
	LastSentAt        sql.NullTime
	CreatedAt         time.Time
}

// QueuedNotification is a pending row in the notification queue, written
// by storefront events (order placed, stock low) and drained by the
// scheduler.
type QueuedNotification struct {
	ID        uuid.UUID
	UserID    sql.NullString
	Category  string
	Title     string
	Body      string
	URL       sql.NullString
	ImageURL  sql.NullString
	Data      []byte // raw JSONB
	CreatedAt time.Time
}

// BroadcastJob is an admin-scheduled broadcast. Status moves
// scheduled -> sending -> sent exactly once.
type BroadcastJob struct {
	ID               uuid.UUID
	Title            string
	Body             string
	URL              sql.NullString
	ImageURL         sql.NullString
	Audience         string
	PreferenceFilter sql.NullString
	Status           string
	ScheduledAt      time.Time
	SentCount        sql.NullInt32
	FailedCount      sql.NullInt32
	CreatedAt        time.Time
	CompletedAt      sql.NullTime
}

// Broadcast job statuses.
const (
	BroadcastStatusScheduled = "scheduled"
	BroadcastStatusSending   = "sending"
	BroadcastStatusSent      = "sent"
)

// Delivery outcome statuses.
const (
	OutcomeStatusSent   = "sent"
	OutcomeStatusFailed = "failed"
)

// OutcomeParams is one append-only delivery log entry.
type OutcomeParams struct {
	SubscriptionID uuid.UUID
	UserID         string
	Endpoint       string
	Category       string
	Status         string
	Error          string
}

// CreateSubscriptionParams carries a device opt-in.
type CreateSubscriptionParams struct {
	UserID        string
	Endpoint      string
	P256dhKey     string
	AuthSecret    string
	OrderUpdates  bool
	Promotions    bool
	DailyReminder bool
	ProfitAlerts  bool
	ReminderTime  string // "HH:MM" or "HH:MM:SS", empty for none
}

// CreateBroadcastParams carries an admin broadcast scheduling request.
type CreateBroadcastParams struct {
	Title            string
	Body             string
	URL              string
	ImageURL         string
	Audience         string
	PreferenceFilter string
	ScheduledAt      time.Time
}
