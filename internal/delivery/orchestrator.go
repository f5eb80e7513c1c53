package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/freshcart/push-engine/internal/breaker"
	"github.com/freshcart/push-engine/internal/logger"
	"github.com/freshcart/push-engine/internal/storage/pg"
	"github.com/freshcart/push-engine/internal/webpush"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// transportBreakerName keys the circuit breaker guarding push relay calls.
const transportBreakerName = "push-transport"

const defaultIcon = "/icons/icon-192x192.png"

// Store is the write side of the registry and audit log the orchestrator
// needs.
type Store interface {
	DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error
	RecordDeliverySuccess(ctx context.Context, id uuid.UUID) error
	AppendOutcome(ctx context.Context, params pg.OutcomeParams) error
	FinalizeBroadcast(ctx context.Context, id uuid.UUID, sent, failed int) error
}

// Orchestrator fans a delivery request out to every resolved subscription:
// sign, encrypt, post through the transport breaker, classify, record.
type Orchestrator struct {
	resolver *Resolver
	store    Store
	signer   *webpush.Signer
	client   *webpush.Client
	breakers *breaker.Registry
	logger   *logger.Logger

	outcomes *prometheus.CounterVec
}

func NewOrchestrator(
	resolver *Resolver,
	store Store,
	signer *webpush.Signer,
	client *webpush.Client,
	breakers *breaker.Registry,
	log *logger.Logger,
	reg prometheus.Registerer,
) *Orchestrator {
	o := &Orchestrator{
		resolver: resolver,
		store:    store,
		signer:   signer,
		client:   client,
		breakers: breakers,
		logger:   log.WithComponent("delivery-orchestrator"),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_delivery_outcomes_total",
			Help: "Per-subscription delivery outcomes by status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(o.outcomes)
	}

	return o
}

// Deliver resolves the request's targets and sends to each concurrently.
// Per-subscription failures are converted to logged outcomes and never
// fail the call or each other; only a resolver-level failure propagates.
func (o *Orchestrator) Deliver(ctx context.Context, req Request) (Result, error) {
	log := o.logger.WithContext(ctx)

	subs, err := o.resolver.Resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(o.buildPayload(req))
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Settle all, then aggregate: every subscription gets a slot and
	// every slot is written exactly once, so no outcome can be dropped
	// even when siblings fail or time out.
	sendErrs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub pg.Subscription) {
			defer wg.Done()
			sendErrs[i] = o.deliverOne(ctx, sub, req.NotificationType, body)
		}(i, sub)
	}
	wg.Wait()

	var result Result
	for _, err := range sendErrs {
		if err != nil {
			result.Failed++
		} else {
			result.Sent++
		}
	}

	o.outcomes.WithLabelValues(pg.OutcomeStatusSent).Add(float64(result.Sent))
	o.outcomes.WithLabelValues(pg.OutcomeStatusFailed).Add(float64(result.Failed))

	log.Info("delivery request settled",
		slog.String("type", req.NotificationType),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed))

	if req.BroadcastID != "" {
		o.finalizeBroadcast(ctx, req.BroadcastID, result)
	}

	return result, nil
}

// deliverOne signs, encrypts and posts to a single subscription, then
// records the classified outcome. The returned error only feeds the
// aggregate counts.
func (o *Orchestrator) deliverOne(ctx context.Context, sub pg.Subscription, category string, body []byte) error {
	log := o.logger.WithContext(ctx)

	err := o.send(ctx, sub, body)
	if err == nil {
		if dbErr := o.store.RecordDeliverySuccess(ctx, sub.ID); dbErr != nil {
			log.LogError(ctx, dbErr, "failed to update send counters",
				slog.String("endpoint", sub.Endpoint))
		}
		o.appendOutcome(ctx, sub, category, pg.OutcomeStatusSent, "")
		return nil
	}

	var gone *webpush.EndpointGoneError
	if errors.As(err, &gone) {
		// The relay says this endpoint will never work again; prune it.
		if dbErr := o.store.DeleteSubscriptionByEndpoint(ctx, sub.Endpoint); dbErr != nil {
			log.LogError(ctx, dbErr, "failed to prune gone subscription",
				slog.String("endpoint", sub.Endpoint))
		} else {
			log.Info("pruned gone subscription",
				slog.String("endpoint", sub.Endpoint),
				slog.Int("status", gone.StatusCode))
		}
		o.appendOutcome(ctx, sub, category, pg.OutcomeStatusFailed, "endpoint gone")
		return err
	}

	// Signing, encryption, transport and circuit-open failures all land
	// here. The subscription stays: the fault may be transient or bad
	// data rather than true staleness.
	log.Warn("delivery failed",
		slog.String("endpoint", sub.Endpoint),
		slog.String("category", category),
		slog.String("error", err.Error()))
	o.appendOutcome(ctx, sub, category, pg.OutcomeStatusFailed, err.Error())
	return err
}

// send performs the per-subscription crypto and the breaker-guarded
// transport call. Only the transport call goes through the breaker:
// signing and encryption are local and their failures say nothing about
// the relay's health.
func (o *Orchestrator) send(ctx context.Context, sub pg.Subscription, body []byte) error {
	authorization, err := o.signer.AuthorizationHeader(sub.Endpoint)
	if err != nil {
		return err
	}

	encrypted, err := webpush.Encrypt(body, sub.P256dhKey, sub.AuthSecret)
	if err != nil {
		return err
	}

	return o.breakers.Get(transportBreakerName).Execute(ctx, func(callCtx context.Context) error {
		return o.client.Send(callCtx, sub.Endpoint, authorization, encrypted)
	})
}

func (o *Orchestrator) appendOutcome(ctx context.Context, sub pg.Subscription, category, status, errDetail string) {
	params := pg.OutcomeParams{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Endpoint:       sub.Endpoint,
		Category:       category,
		Status:         status,
		Error:          errDetail,
	}
	if err := o.store.AppendOutcome(ctx, params); err != nil {
		o.logger.LogError(ctx, err, "failed to append delivery outcome",
			slog.String("endpoint", sub.Endpoint))
	}
}

func (o *Orchestrator) finalizeBroadcast(ctx context.Context, broadcastID string, result Result) {
	id, err := uuid.Parse(broadcastID)
	if err != nil {
		o.logger.LogError(ctx, err, "invalid broadcast id on delivery request",
			slog.String("broadcast_id", broadcastID))
		return
	}

	if err := o.store.FinalizeBroadcast(ctx, id, result.Sent, result.Failed); err != nil {
		o.logger.LogError(ctx, err, "failed to finalize broadcast",
			slog.String("broadcast_id", broadcastID))
		return
	}

	o.logger.Info("broadcast completed",
		slog.String("broadcast_id", broadcastID),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed))
}

func (o *Orchestrator) buildPayload(req Request) Payload {
	icon := req.Icon
	if icon == "" {
		icon = defaultIcon
	}

	url := req.URL
	if url == "" {
		url = "/"
	}

	data := req.Data
	if data == nil {
		data = map[string]any{}
	}

	return Payload{
		Title:     req.Title,
		Body:      req.Body,
		Icon:      icon,
		URL:       url,
		Image:     req.ImageURL,
		Type:      req.NotificationType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}
