package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/freshcart/push-engine/internal/logger"
	"github.com/freshcart/push-engine/internal/storage/pg"
)

// SubscriptionSource is the read side of the subscription registry the
// resolver needs.
type SubscriptionSource interface {
	SubscriptionsByUserIDs(ctx context.Context, userIDs []string) ([]pg.Subscription, error)
	SubscriptionsByPreference(ctx context.Context, preferenceFilter string) ([]pg.Subscription, error)
}

// AudienceResolver maps a role name to the user ids holding it. Injected
// so the resolver is testable without a live datastore.
type AudienceResolver interface {
	ResolveAudience(ctx context.Context, role string) ([]string, error)
}

// Resolver turns a delivery request's target selector into the concrete
// set of device subscriptions, deduplicated by endpoint.
type Resolver struct {
	store     SubscriptionSource
	audiences AudienceResolver
	logger    *logger.Logger
}

func NewResolver(store SubscriptionSource, audiences AudienceResolver, log *logger.Logger) *Resolver {
	return &Resolver{
		store:     store,
		audiences: audiences,
		logger:    log.WithComponent("subscription-resolver"),
	}
}

// Resolve returns the subscriptions targeted by req. No matching
// subscriptions is an empty result, not an error; only a failure to reach
// the registry or the role lookup propagates.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]pg.Subscription, error) {
	targeted := len(req.UserIDs) > 0 || req.SendToAdmins || req.SendToDelivery

	userIDs := make([]string, 0, len(req.UserIDs))
	userIDs = append(userIDs, req.UserIDs...)

	if req.SendToAdmins {
		ids, err := r.audiences.ResolveAudience(ctx, RoleAdmins)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve admin audience: %w", err)
		}
		userIDs = append(userIDs, ids...)
	}

	if req.SendToDelivery {
		ids, err := r.audiences.ResolveAudience(ctx, RoleDelivery)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve delivery audience: %w", err)
		}
		userIDs = append(userIDs, ids...)
	}

	var (
		subs []pg.Subscription
		err  error
	)

	switch {
	case targeted && len(userIDs) == 0:
		// The role audience resolved to nobody. A targeted request with
		// an empty audience stays empty; it must never widen into a
		// broadcast.
	case targeted:
		subs, err = r.store.SubscriptionsByUserIDs(ctx, dedupeStrings(userIDs))
	default:
		// No target selector at all: broadcast, optionally
		// preference-filtered.
		subs, err = r.store.SubscriptionsByPreference(ctx, req.PreferenceFilter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}

	deduped := dedupeByEndpoint(subs)

	r.logger.Debug("resolved delivery targets",
		slog.String("type", req.NotificationType),
		slog.Int("user_ids", len(userIDs)),
		slog.Int("subscriptions", len(deduped)))

	return deduped, nil
}

// dedupeByEndpoint keeps the first subscription seen for each transport
// endpoint. The same endpoint can match multiple selector paths, e.g. a
// user who is both an admin and an explicit target, and a device must
// never be notified twice for one request.
func dedupeByEndpoint(subs []pg.Subscription) []pg.Subscription {
	seen := make(map[string]struct{}, len(subs))
	out := make([]pg.Subscription, 0, len(subs))
	for _, s := range subs {
		if _, ok := seen[s.Endpoint]; ok {
			continue
		}
		seen[s.Endpoint] = struct{}{}
		out = append(out, s)
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
