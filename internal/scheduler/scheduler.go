package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/freshcart/push-engine/internal/delivery"
	"github.com/freshcart/push-engine/internal/logger"
	"github.com/freshcart/push-engine/internal/storage/pg"
	"github.com/google/uuid"
)

// Modes selectable on the trigger surface.
const (
	ModeAll            = "all"
	ModePending        = "pending"
	ModeDailyReminders = "daily_reminders"
	ModeProfitSummary  = "profit_summary"
	ModeScheduled      = "scheduled"
)

// Store is the state the scheduler reads and claims on each tick.
type Store interface {
	PendingNotifications(ctx context.Context) ([]pg.QueuedNotification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID) error
	SubscriptionsWithReminderDue(ctx context.Context, now time.Time, window time.Duration) ([]pg.Subscription, error)
	MarkReminderIssued(ctx context.Context, ids []uuid.UUID) error
	DeliveredRevenueOn(ctx context.Context, day time.Time) (float64, error)
	ExpensesOn(ctx context.Context, day time.Time) (float64, error)
	ClaimSummaryRun(ctx context.Context, day time.Time) (bool, error)
	ClaimDueBroadcasts(ctx context.Context, now time.Time) ([]pg.BroadcastJob, error)
	ReleaseBroadcast(ctx context.Context, id uuid.UUID) error
}

// Deliverer issues delivery requests. Satisfied by the orchestrator.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) (delivery.Result, error)
}

// Config holds the scheduler's timing knobs.
type Config struct {
	ReminderWindow    time.Duration // +/- around a subscription's reminder time-of-day
	ProfitSummaryHour int           // local hour the daily summary fires
}

// Scheduler evaluates, on each invocation, which notification classes are
// due and issues the corresponding delivery requests. It owns no loop of
// its own; ticks come from the HTTP trigger or the cron runner.
type Scheduler struct {
	store     Store
	deliverer Deliverer
	config    Config
	logger    *logger.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(store Store, deliverer Deliverer, config Config, log *logger.Logger) *Scheduler {
	if config.ReminderWindow <= 0 {
		config.ReminderWindow = 5 * time.Minute
	}

	return &Scheduler{
		store:     store,
		deliverer: deliverer,
		config:    config,
		logger:    log.WithComponent("scheduler"),
		now:       time.Now,
	}
}

// Run executes the rules selected by mode. Rules are independent: one
// rule's failure does not stop the others, and the joined error reports
// everything that went wrong.
func (s *Scheduler) Run(ctx context.Context, mode string) error {
	var errs []error

	runRule := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			s.logger.LogError(ctx, err, "scheduler rule failed", slog.String("rule", name))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch mode {
	case ModeAll:
		runRule(ModePending, s.runPending)
		runRule(ModeDailyReminders, s.runDailyReminders)
		runRule(ModeProfitSummary, s.runProfitSummary)
		runRule(ModeScheduled, s.runScheduled)
	case ModePending:
		runRule(ModePending, s.runPending)
	case ModeDailyReminders:
		runRule(ModeDailyReminders, s.runDailyReminders)
	case ModeProfitSummary:
		runRule(ModeProfitSummary, s.runProfitSummary)
	case ModeScheduled:
		runRule(ModeScheduled, s.runScheduled)
	default:
		return fmt.Errorf("unknown scheduler mode %q", mode)
	}

	return errors.Join(errs...)
}

// runPending drains the notification queue: each pending row is resolved
// to its audience and dispatched. The row becomes "sent" once a dispatch
// attempt was issued; per-subscription success lives in the delivery log.
func (s *Scheduler) runPending(ctx context.Context) error {
	pending, err := s.store.PendingNotifications(ctx)
	if err != nil {
		return err
	}

	for _, n := range pending {
		req := delivery.Request{
			NotificationType: n.Category,
			Title:            n.Title,
			Body:             n.Body,
			URL:              n.URL.String,
			ImageURL:         n.ImageURL.String,
		}

		if len(n.Data) > 0 {
			if err := json.Unmarshal(n.Data, &req.Data); err != nil {
				s.logger.Warn("queued notification carries malformed data, dropping it",
					slog.String("id", n.ID.String()),
					slog.String("error", err.Error()))
			}
		}

		if n.UserID.Valid {
			req.UserIDs = []string{n.UserID.String}
		} else {
			// Order and stock events without an explicit recipient go
			// to the admin audience.
			req.SendToAdmins = true
		}

		if _, err := s.deliverer.Deliver(ctx, req); err != nil {
			s.logger.LogError(ctx, err, "failed to dispatch queued notification",
				slog.String("id", n.ID.String()),
				slog.String("category", n.Category))
			continue
		}

		if err := s.store.MarkNotificationSent(ctx, n.ID); err != nil {
			s.logger.LogError(ctx, err, "failed to mark queued notification sent",
				slog.String("id", n.ID.String()))
		}
	}

	return nil
}

// runDailyReminders issues one personalized reminder for every
// subscription whose reminder time-of-day falls inside the current
// window. Due rows are stamped before dispatch so an overlapping tick
// cannot re-issue them.
func (s *Scheduler) runDailyReminders(ctx context.Context) error {
	now := s.now()

	due, err := s.store.SubscriptionsWithReminderDue(ctx, now, s.config.ReminderWindow)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(due))
	users := make(map[string]struct{}, len(due))
	for _, sub := range due {
		ids = append(ids, sub.ID)
		users[sub.UserID] = struct{}{}
	}

	if err := s.store.MarkReminderIssued(ctx, ids); err != nil {
		return err
	}

	for userID := range users {
		req := delivery.Request{
			UserIDs:          []string{userID},
			NotificationType: "daily_reminder",
			Title:            "Grocery reminder",
			Body:             "Time to order today's groceries before delivery slots fill up.",
			URL:              "/",
		}

		if _, err := s.deliverer.Deliver(ctx, req); err != nil {
			s.logger.LogError(ctx, err, "failed to dispatch daily reminder",
				slog.String("user_id", userID))
		}
	}

	s.logger.Info("daily reminders issued",
		slog.Int("subscriptions", len(due)),
		slog.Int("users", len(users)))
	return nil
}

// runProfitSummary computes same-day delivered revenue minus same-day
// expenses once per day at the configured hour and broadcasts the result
// to the profit_alerts audience. The summary_runs claim makes the rule
// fire at most once per day no matter how often the tick lands in the
// hour.
func (s *Scheduler) runProfitSummary(ctx context.Context) error {
	now := s.now()
	if now.Hour() != s.config.ProfitSummaryHour {
		return nil
	}

	claimed, err := s.store.ClaimSummaryRun(ctx, now)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	revenue, err := s.store.DeliveredRevenueOn(ctx, now)
	if err != nil {
		return err
	}
	expenses, err := s.store.ExpensesOn(ctx, now)
	if err != nil {
		return err
	}
	profit := revenue - expenses

	req := delivery.Request{
		NotificationType: "profit_summary",
		Title:            "Daily profit summary",
		Body:             fmt.Sprintf("Revenue %.2f, expenses %.2f, profit %.2f today.", revenue, expenses, profit),
		URL:              "/admin/reports",
		PreferenceFilter: "profit_alerts",
		Data: map[string]any{
			"revenue":  revenue,
			"expenses": expenses,
			"profit":   profit,
			"date":     now.Format("2006-01-02"),
		},
	}

	if _, err := s.deliverer.Deliver(ctx, req); err != nil {
		return err
	}

	s.logger.Info("profit summary dispatched",
		slog.Float64("revenue", revenue),
		slog.Float64("expenses", expenses),
		slog.Float64("profit", profit))
	return nil
}

// runScheduled claims every due broadcast job and dispatches it to its
// configured audience. The claim update is the double-send guard; the
// orchestrator finalizes the job to "sent" with its aggregate counts.
func (s *Scheduler) runScheduled(ctx context.Context) error {
	jobs, err := s.store.ClaimDueBroadcasts(ctx, s.now())
	if err != nil {
		return err
	}

	for _, job := range jobs {
		req := delivery.Request{
			NotificationType: "broadcast",
			Title:            job.Title,
			Body:             job.Body,
			URL:              job.URL.String,
			ImageURL:         job.ImageURL.String,
			BroadcastID:      job.ID.String(),
			PreferenceFilter: job.PreferenceFilter.String,
		}

		switch job.Audience {
		case "admins":
			req.SendToAdmins = true
		case "delivery":
			req.SendToDelivery = true
		}

		if _, err := s.deliverer.Deliver(ctx, req); err != nil {
			s.logger.LogError(ctx, err, "failed to dispatch broadcast",
				slog.String("broadcast_id", job.ID.String()))
			// Return the claim so a later tick can retry; a dispatch
			// error here means no sends happened at all.
			if relErr := s.store.ReleaseBroadcast(ctx, job.ID); relErr != nil {
				s.logger.LogError(ctx, relErr, "failed to release claimed broadcast",
					slog.String("broadcast_id", job.ID.String()))
			}
		}
	}

	if len(jobs) > 0 {
		s.logger.Info("scheduled broadcasts dispatched", slog.Int("jobs", len(jobs)))
	}
	return nil
}
