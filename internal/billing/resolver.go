// ABOUTME: Billing policy resolver deciding whether a user may send a notification
// ABOUTME: Pure decision function over store state; fails closed on lookup errors

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/x402labs/notify-gateway/internal/store"
)

// DefaultPerNotificationPrice is charged when a user has no pricing
// preference or a zero configured price.
var DefaultPerNotificationPrice = decimal.RequireFromString("0.99")

// Decision is the resolver's verdict for one prospective send.
type Decision struct {
	Allowed         bool
	RequiresPayment bool
	ChargeAmount    decimal.Decimal
	Reason          string // set when Allowed is false
}

// Resolver determines the active pricing model for a user and whether a send
// is currently permitted. It performs no mutation.
type Resolver struct {
	store  store.Store
	logger *slog.Logger
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{
		store:  s,
		logger: slog.Default().With("component", "billing"),
	}
}

// Resolve decides whether the user may send one notification right now.
// Users with no preference default to pay-per-use at the standard price.
// Any persistence error resolves to a denial ("Error checking permissions").
func (r *Resolver) Resolve(ctx context.Context, userID string) Decision {
	pref, err := r.store.GetPricingPreference(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Allowed: true, RequiresPayment: true, ChargeAmount: DefaultPerNotificationPrice}
	}
	if err != nil {
		return r.failClosed(userID, err)
	}

	if pref.PricingModel == store.PricingPayPerUse {
		price := pref.PerNotificationPrice
		if price.IsZero() {
			price = DefaultPerNotificationPrice
		}
		return Decision{Allowed: true, RequiresPayment: true, ChargeAmount: price}
	}

	// Subscription model: check the active subscription against its plan.
	sub, err := r.store.GetActiveSubscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Reason: "No active subscription. Please subscribe or switch to pay-per-use."}
	}
	if err != nil {
		return r.failClosed(userID, err)
	}

	if sub.ExpiresAt < time.Now().Unix() {
		return Decision{Reason: "Subscription expired. Please renew."}
	}

	if sub.NotificationLimit != nil && sub.NotificationsUsed >= *sub.NotificationLimit {
		return Decision{Reason: fmt.Sprintf("Monthly notification limit (%d) reached. Upgrade or wait for reset.", *sub.NotificationLimit)}
	}

	return Decision{Allowed: true}
}

func (r *Resolver) failClosed(userID string, err error) Decision {
	r.logger.Error("permission check failed", "user_id", userID, "error", err)
	return Decision{Reason: "Error checking permissions"}
}
