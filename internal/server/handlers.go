package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/freshcart/push-engine/internal/breaker"
	"github.com/freshcart/push-engine/internal/delivery"
	apierrors "github.com/freshcart/push-engine/internal/errors"
	"github.com/freshcart/push-engine/internal/logger"
	"github.com/freshcart/push-engine/internal/scheduler"
	"github.com/freshcart/push-engine/internal/storage/pg"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	orchestrator *delivery.Orchestrator
	scheduler    *scheduler.Scheduler
	store        *pg.Store
	breakers     *breaker.Registry
	logger       *logger.Logger
}

func NewHandler(
	orchestrator *delivery.Orchestrator,
	sched *scheduler.Scheduler,
	store *pg.Store,
	breakers *breaker.Registry,
	log *logger.Logger,
) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		scheduler:    sched,
		store:        store,
		breakers:     breakers,
		logger:       log,
	}
}

// SendNotification dispatches a delivery request immediately.
// POST /api/v1/notifications/send.
func (h *Handler) SendNotification(c *gin.Context) {
	var req delivery.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	if req.Title == "" || req.Body == "" || req.NotificationType == "" {
		apierrors.AbortWithBadRequest(c, "notification_type, title and body are required", nil)
		return
	}

	result, err := h.orchestrator.Deliver(c.Request.Context(), req)
	if err != nil {
		apierrors.AbortWithInternal(c, err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, result)
}

// EnqueueNotification queues a notification for the next pending drain.
// POST /api/v1/notifications/queue.
type EnqueueNotificationRequest struct {
	UserID   string         `json:"user_id"`
	Category string         `json:"category" binding:"required"`
	Title    string         `json:"title" binding:"required"`
	Body     string         `json:"body" binding:"required"`
	URL      string         `json:"url"`
	ImageURL string         `json:"image_url"`
	Data     map[string]any `json:"data"`
}

func (h *Handler) EnqueueNotification(c *gin.Context) {
	var req EnqueueNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	row := pg.QueuedNotification{
		Category: req.Category,
		Title:    req.Title,
		Body:     req.Body,
	}
	if req.UserID != "" {
		row.UserID = sql.NullString{String: req.UserID, Valid: true}
	}
	if req.URL != "" {
		row.URL = sql.NullString{String: req.URL, Valid: true}
	}
	if req.ImageURL != "" {
		row.ImageURL = sql.NullString{String: req.ImageURL, Valid: true}
	}
	if req.Data != nil {
		data, err := json.Marshal(req.Data)
		if err != nil {
			apierrors.AbortWithBadRequest(c, "data is not serializable", nil)
			return
		}
		row.Data = data
	}

	id, err := h.store.EnqueueNotification(c.Request.Context(), row)
	if err != nil {
		apierrors.AbortWithInternal(c, err.Error(), nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// RunScheduler runs the selected scheduler rules.
// POST /api/v1/scheduler/run.
type RunSchedulerRequest struct {
	Mode string `json:"mode"`
}

func (h *Handler) RunScheduler(c *gin.Context) {
	var req RunSchedulerRequest
	// An empty body is a valid trigger; it means run everything.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}
	if req.Mode == "" {
		req.Mode = scheduler.ModeAll
	}

	if err := h.scheduler.Run(c.Request.Context(), req.Mode); err != nil {
		apierrors.AbortWithInternal(c, err.Error(), map[string]any{"mode": req.Mode})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "mode": req.Mode})
}

// Subscribe registers (or refreshes) a device subscription.
// POST /api/v1/subscriptions.
type SubscribeRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
	OrderUpdates  *bool  `json:"order_updates"`
	Promotions    *bool  `json:"promotions"`
	DailyReminder bool   `json:"daily_reminder"`
	ProfitAlerts  bool   `json:"profit_alerts"`
	ReminderTime  string `json:"reminder_time"` // "HH:MM"
}

func (h *Handler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	if req.ReminderTime != "" {
		if _, err := time.Parse("15:04", req.ReminderTime); err != nil {
			apierrors.AbortWithBadRequest(c, "reminder_time must be HH:MM", nil)
			return
		}
	}

	params := pg.CreateSubscriptionParams{
		UserID:        req.UserID,
		Endpoint:      req.Endpoint,
		P256dhKey:     req.Keys.P256dh,
		AuthSecret:    req.Keys.Auth,
		OrderUpdates:  true,
		Promotions:    true,
		DailyReminder: req.DailyReminder,
		ProfitAlerts:  req.ProfitAlerts,
		ReminderTime:  req.ReminderTime,
	}
	if req.OrderUpdates != nil {
		params.OrderUpdates = *req.OrderUpdates
	}
	if req.Promotions != nil {
		params.Promotions = *req.Promotions
	}

	sub, err := h.store.UpsertSubscription(c.Request.Context(), params)
	if err != nil {
		apierrors.AbortWithInternal(c, err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": sub.ID, "endpoint": sub.Endpoint})
}

// Unsubscribe removes a device subscription by endpoint. Idempotent.
// DELETE /api/v1/subscriptions.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	var req UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	if err := h.store.DeleteSubscriptionByEndpoint(c.Request.Context(), req.Endpoint); err != nil {
		apierrors.AbortWithInternal(c, err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// CreateBroadcast schedules a broadcast job.
// POST /api/v1/broadcasts.
type CreateBroadcastRequest struct {
	Title            string    `json:"title" binding:"required"`
	Body             string    `json:"body" binding:"required"`
	URL              string    `json:"url"`
	ImageURL         string    `json:"image_url"`
	Audience         string    `json:"audience"`
	PreferenceFilter string    `json:"preference_filter"`
	ScheduledAt      time.Time `json:"scheduled_at"`
}

func (h *Handler) CreateBroadcast(c *gin.Context) {
	var req CreateBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	if req.Audience == "" {
		req.Audience = "all"
	}
	switch req.Audience {
	case "all", "admins", "delivery":
	default:
		apierrors.AbortWithBadRequest(c, "audience must be one of all, admins, delivery", nil)
		return
	}

	if req.ScheduledAt.IsZero() {
		req.ScheduledAt = time.Now()
	}

	job, err := h.store.CreateBroadcastJob(c.Request.Context(), pg.CreateBroadcastParams{
		Title:            req.Title,
		Body:             req.Body,
		URL:              req.URL,
		ImageURL:         req.ImageURL,
		Audience:         req.Audience,
		PreferenceFilter: req.PreferenceFilter,
		ScheduledAt:      req.ScheduledAt,
	})
	if err != nil {
		apierrors.AbortWithInternal(c, err.Error(), nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": job.ID, "status": job.Status, "scheduled_at": job.ScheduledAt})
}

// GetBroadcast returns one broadcast job with its aggregate counts.
// GET /api/v1/broadcasts/:id.
func (h *Handler) GetBroadcast(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.AbortWithBadRequest(c, "invalid broadcast id", nil)
		return
	}

	job, err := h.store.GetBroadcastJob(c.Request.Context(), id)
	if err != nil {
		apierrors.AbortWithNotFound(c, "broadcast not found", nil)
		return
	}

	resp := gin.H{
		"id":           job.ID,
		"title":        job.Title,
		"status":       job.Status,
		"audience":     job.Audience,
		"scheduled_at": job.ScheduledAt,
	}
	if job.SentCount.Valid {
		resp["sent_count"] = job.SentCount.Int32
		resp["failed_count"] = job.FailedCount.Int32
	}
	c.JSON(http.StatusOK, resp)
}

// BreakerStatus exposes circuit breaker metrics for operations.
// GET /api/v1/breakers.
func (h *Handler) BreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": h.breakers.Snapshot()})
}
