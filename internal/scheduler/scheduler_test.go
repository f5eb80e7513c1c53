package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/freshcart/push-engine/internal/delivery"
	"github.com/freshcart/push-engine/internal/logger"
	"github.com/freshcart/push-engine/internal/storage/pg"
	"github.com/google/uuid"
)

var testLog = logger.New(logger.Config{Level: slog.LevelError})

type fakeStore struct {
	pending   []pg.QueuedNotification
	reminders []pg.Subscription
	revenue   float64
	expenses  float64
	claimed   bool
	jobs      []pg.BroadcastJob

	markedSent      []uuid.UUID
	reminderStamps  [][]uuid.UUID
	summaryClaims   int
	broadcastClaims int
	released        []uuid.UUID
	pendingErr      error
	claimSummaryErr error
}

func (f *fakeStore) PendingNotifications(context.Context) ([]pg.QueuedNotification, error) {
	return f.pending, f.pendingErr
}

func (f *fakeStore) MarkNotificationSent(_ context.Context, id uuid.UUID) error {
	f.markedSent = append(f.markedSent, id)
	return nil
}

func (f *fakeStore) SubscriptionsWithReminderDue(context.Context, time.Time, time.Duration) ([]pg.Subscription, error) {
	return f.reminders, nil
}

func (f *fakeStore) MarkReminderIssued(_ context.Context, ids []uuid.UUID) error {
	f.reminderStamps = append(f.reminderStamps, ids)
	return nil
}

func (f *fakeStore) DeliveredRevenueOn(context.Context, time.Time) (float64, error) {
	return f.revenue, nil
}

func (f *fakeStore) ExpensesOn(context.Context, time.Time) (float64, error) {
	return f.expenses, nil
}

func (f *fakeStore) ClaimSummaryRun(context.Context, time.Time) (bool, error) {
	if f.claimSummaryErr != nil {
		return false, f.claimSummaryErr
	}
	f.summaryClaims++
	// First claim wins, later claims for the same day lose.
	if f.claimed {
		return false, nil
	}
	f.claimed = true
	return true, nil
}

func (f *fakeStore) ClaimDueBroadcasts(context.Context, time.Time) ([]pg.BroadcastJob, error) {
	f.broadcastClaims++
	// A claim removes the jobs from the due set; a second tick sees none.
	jobs := f.jobs
	f.jobs = nil
	return jobs, nil
}

func (f *fakeStore) ReleaseBroadcast(_ context.Context, id uuid.UUID) error {
	f.released = append(f.released, id)
	return nil
}

type fakeDeliverer struct {
	requests []delivery.Request
	err      error
}

func (f *fakeDeliverer) Deliver(_ context.Context, req delivery.Request) (delivery.Result, error) {
	if f.err != nil {
		return delivery.Result{}, f.err
	}
	f.requests = append(f.requests, req)
	return delivery.Result{Sent: 1}, nil
}

func newTestScheduler(store *fakeStore, deliverer *fakeDeliverer, at time.Time) *Scheduler {
	s := New(store, deliverer, Config{
		ReminderWindow:    5 * time.Minute,
		ProfitSummaryHour: 21,
	}, testLog)
	s.now = func() time.Time { return at }
	return s
}

func TestRunPendingRoutesAndMarksSent(t *testing.T) {
	userRow := pg.QueuedNotification{
		ID:       uuid.New(),
		UserID:   sql.NullString{String: "user-1", Valid: true},
		Category: "order_update",
		Title:    "Order confirmed",
		Body:     "We are picking your items.",
	}
	adminRow := pg.QueuedNotification{
		ID:       uuid.New(),
		Category: "stock_low",
		Title:    "Stock low",
		Body:     "Bananas are nearly out.",
		Data:     []byte(`{"product_id":"bananas"}`),
	}

	store := &fakeStore{pending: []pg.QueuedNotification{userRow, adminRow}}
	deliverer := &fakeDeliverer{}
	s := newTestScheduler(store, deliverer, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	if err := s.Run(context.Background(), ModePending); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(deliverer.requests) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(deliverer.requests))
	}

	first := deliverer.requests[0]
	if len(first.UserIDs) != 1 || first.UserIDs[0] != "user-1" || first.SendToAdmins {
		t.Errorf("expected user-targeted dispatch, got %+v", first)
	}

	second := deliverer.requests[1]
	if !second.SendToAdmins || len(second.UserIDs) != 0 {
		t.Errorf("expected admin-routed dispatch for row without recipient, got %+v", second)
	}
	if second.Data["product_id"] != "bananas" {
		t.Errorf("expected queue data to flow into the payload, got %+v", second.Data)
	}

	if len(store.markedSent) != 2 {
		t.Fatalf("expected both rows marked sent, got %d", len(store.markedSent))
	}
}

func TestRunPendingKeepsRowWhenDispatchFails(t *testing.T) {
	store := &fakeStore{pending: []pg.QueuedNotification{{
		ID:       uuid.New(),
		Category: "order_update",
		Title:    "x",
	}}}
	deliverer := &fakeDeliverer{err: errors.New("resolver down")}
	s := newTestScheduler(store, deliverer, time.Now())

	if err := s.Run(context.Background(), ModePending); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(store.markedSent) != 0 {
		t.Fatal("row must stay pending when dispatch fails")
	}
}

func TestRunDailyRemindersStampsThenGroupsByUser(t *testing.T) {
	subA1 := pg.Subscription{ID: uuid.New(), UserID: "user-a", Endpoint: "https://push.example/a1"}
	subA2 := pg.Subscription{ID: uuid.New(), UserID: "user-a", Endpoint: "https://push.example/a2"}
	subB := pg.Subscription{ID: uuid.New(), UserID: "user-b", Endpoint: "https://push.example/b"}

	store := &fakeStore{reminders: []pg.Subscription{subA1, subA2, subB}}
	deliverer := &fakeDeliverer{}
	s := newTestScheduler(store, deliverer, time.Now())

	if err := s.Run(context.Background(), ModeDailyReminders); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// One stamp batch covering all three due subscriptions.
	if len(store.reminderStamps) != 1 || len(store.reminderStamps[0]) != 3 {
		t.Fatalf("expected one stamp batch of 3, got %+v", store.reminderStamps)
	}

	// One dispatch per user, not per device.
	if len(deliverer.requests) != 2 {
		t.Fatalf("expected 2 user dispatches, got %d", len(deliverer.requests))
	}
	for _, req := range deliverer.requests {
		if req.NotificationType != "daily_reminder" {
			t.Errorf("expected daily_reminder type, got %q", req.NotificationType)
		}
		if len(req.UserIDs) != 1 {
			t.Errorf("expected single-user dispatch, got %+v", req.UserIDs)
		}
	}
}

func TestRunProfitSummaryComputesAndClaimsOnce(t *testing.T) {
	at := time.Date(2026, 3, 1, 21, 2, 0, 0, time.UTC)
	store := &fakeStore{revenue: 1000, expenses: 700}
	deliverer := &fakeDeliverer{}
	s := newTestScheduler(store, deliverer, at)

	if err := s.Run(context.Background(), ModeProfitSummary); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	if len(deliverer.requests) != 1 {
		t.Fatalf("expected 1 summary dispatch, got %d", len(deliverer.requests))
	}
	req := deliverer.requests[0]
	if req.PreferenceFilter != "profit_alerts" {
		t.Errorf("expected profit_alerts audience, got %q", req.PreferenceFilter)
	}
	if !strings.Contains(req.Body, "1000.00") || !strings.Contains(req.Body, "700.00") || !strings.Contains(req.Body, "300.00") {
		t.Errorf("expected revenue, expenses and profit in body, got %q", req.Body)
	}

	// A later tick inside the same hour loses the claim and stays silent.
	if err := s.Run(context.Background(), ModeProfitSummary); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(deliverer.requests) != 1 {
		t.Fatalf("summary dispatched twice in one day, got %d dispatches", len(deliverer.requests))
	}
	if store.summaryClaims != 2 {
		t.Fatalf("expected 2 claim attempts, got %d", store.summaryClaims)
	}
}

func TestRunProfitSummarySkipsOutsideConfiguredHour(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{revenue: 1000, expenses: 700}
	deliverer := &fakeDeliverer{}
	s := newTestScheduler(store, deliverer, at)

	if err := s.Run(context.Background(), ModeProfitSummary); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if store.summaryClaims != 0 {
		t.Fatal("no claim should be attempted outside the summary hour")
	}
	if len(deliverer.requests) != 0 {
		t.Fatal("no dispatch should happen outside the summary hour")
	}
}

func TestRunScheduledDispatchesClaimedJobsOnce(t *testing.T) {
	job := pg.BroadcastJob{
		ID:       uuid.New(),
		Title:    "Weekend deals",
		Body:     "Fresh produce discounts all weekend.",
		Audience: "admins",
	}

	store := &fakeStore{jobs: []pg.BroadcastJob{job}}
	deliverer := &fakeDeliverer{}
	s := newTestScheduler(store, deliverer, time.Now())

	if err := s.Run(context.Background(), ModeScheduled); err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	if err := s.Run(context.Background(), ModeScheduled); err != nil {
		t.Fatalf("second tick failed: %v", err)
	}

	if len(deliverer.requests) != 1 {
		t.Fatalf("expected the job dispatched exactly once across ticks, got %d", len(deliverer.requests))
	}
	req := deliverer.requests[0]
	if req.BroadcastID != job.ID.String() {
		t.Errorf("expected broadcast id on the request, got %q", req.BroadcastID)
	}
	if !req.SendToAdmins {
		t.Errorf("expected admins audience routing, got %+v", req)
	}
	if store.broadcastClaims != 2 {
		t.Fatalf("expected 2 claim attempts, got %d", store.broadcastClaims)
	}
}

func TestRunScheduledReleasesJobWhenDispatchFails(t *testing.T) {
	job := pg.BroadcastJob{
		ID:       uuid.New(),
		Title:    "Weekend deals",
		Body:     "Fresh produce discounts all weekend.",
		Audience: "all",
	}

	store := &fakeStore{jobs: []pg.BroadcastJob{job}}
	deliverer := &fakeDeliverer{err: errors.New("registry unreachable")}
	s := newTestScheduler(store, deliverer, time.Now())

	if err := s.Run(context.Background(), ModeScheduled); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// The claim must be handed back so a later tick can retry; otherwise
	// the job is stranded in sending forever.
	if len(store.released) != 1 || store.released[0] != job.ID {
		t.Fatalf("expected failed job released for retry, got %+v", store.released)
	}
}

func TestRunAllJoinsRuleFailures(t *testing.T) {
	store := &fakeStore{
		pendingErr:      errors.New("queue query failed"),
		claimSummaryErr: errors.New("claim failed"),
	}
	deliverer := &fakeDeliverer{}
	s := newTestScheduler(store, deliverer, time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC))

	err := s.Run(context.Background(), ModeAll)
	if err == nil {
		t.Fatal("expected joined rule failures")
	}
	if !strings.Contains(err.Error(), "pending") || !strings.Contains(err.Error(), "profit_summary") {
		t.Fatalf("expected both failing rules in the error, got %v", err)
	}
	// Independent rules still ran despite siblings failing.
	if store.broadcastClaims != 1 {
		t.Fatalf("expected scheduled rule to run, got %d claims", store.broadcastClaims)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	s := newTestScheduler(&fakeStore{}, &fakeDeliverer{}, time.Now())
	if err := s.Run(context.Background(), "bogus"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
