// ABOUTME: Tests for the notification send flow
// ABOUTME: Covers billing gating, charge linkage, and delivery failure handling

package notify

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402labs/notify-gateway/internal/billing"
	"github.com/x402labs/notify-gateway/internal/store"
)

// fakeProvider records delivery requests and returns a configured outcome.
type fakeProvider struct {
	outcome  DeliveryOutcome
	err      error
	requests []DeliveryRequest
}

func (f *fakeProvider) Deliver(_ context.Context, req DeliveryRequest) (DeliveryOutcome, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return DeliveryFailed, f.err
	}
	return f.outcome, nil
}

func setupDispatcher(t *testing.T, provider Provider) (*Dispatcher, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return NewDispatcher(s, billing.NewResolver(s), provider), s
}

func sendParams(userID string) SendParams {
	return SendParams{
		UserID:  userID,
		Email:   "user@example.com",
		Subject: "Hello",
		Message: "test message",
	}
}

func TestDispatcher_Send_DefaultPayPerUse(t *testing.T) {
	provider := &fakeProvider{outcome: DeliverySent}
	d, s := setupDispatcher(t, provider)
	ctx := context.Background()

	result, err := d.Send(ctx, sendParams("user-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.NotificationID)
	assert.Equal(t, DeliverySent, result.Delivery)
	require.NotEmpty(t, result.PaymentID, "default pay-per-use send must be charged")

	// The charge lands in the ledger at the default price.
	payments, err := s.ListPayments(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, result.PaymentID, payments[0].ID)
	assert.True(t, payments[0].Amount.Equal(decimal.RequireFromString("0.99")))
	assert.Equal(t, store.PaymentConfirmed, payments[0].Status)

	// Usage references the real payment.
	usages, err := s.ListUsage(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, result.PaymentID, usages[0].PaymentID)
	assert.Equal(t, result.NotificationID, usages[0].NotificationID)
	require.NotNil(t, usages[0].ChargedAmount)
	assert.True(t, usages[0].ChargedAmount.Equal(decimal.RequireFromString("0.99")))
}

func TestDispatcher_Send_SubscriptionNotCharged(t *testing.T) {
	provider := &fakeProvider{outcome: DeliverySent}
	d, s := setupDispatcher(t, provider)
	ctx := context.Background()

	subscribe(t, s, "user-1", "plan-starter-monthly")

	result, err := d.Send(ctx, sendParams("user-1"))
	require.NoError(t, err)
	assert.Empty(t, result.PaymentID)

	payments, err := s.ListPayments(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, payments)

	sub, err := s.GetActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.NotificationsUsed)
}

func TestDispatcher_Send_DeniedWithoutSubscription(t *testing.T) {
	provider := &fakeProvider{outcome: DeliverySent}
	d, s := setupDispatcher(t, provider)
	ctx := context.Background()

	// Subscription model chosen but never subscribed.
	now := time.Now().Unix()
	pref := &store.PricingPreference{
		UserID:               "user-1",
		PricingModel:         store.PricingSubscription,
		PerNotificationPrice: decimal.RequireFromString("0.99"),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, s.UpsertPricingPreference(ctx, pref))

	_, err := d.Send(ctx, sendParams("user-1"))
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Contains(t, permErr.Reason, "No active subscription")

	// A denied send leaves no trace.
	assert.Empty(t, provider.requests)
	notifications, err := s.ListNotifications(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, notifications)
	usages, err := s.ListUsage(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, usages)
}

func TestDispatcher_Send_DeliveryFailureIsNonFatal(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider unreachable")}
	d, s := setupDispatcher(t, provider)
	ctx := context.Background()

	result, err := d.Send(ctx, sendParams("user-1"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryFailed, result.Delivery)

	// The attempt is still recorded, as failed, and still charged.
	notifications, err := s.ListNotifications(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, store.NotificationFailed, notifications[0].Status)
	assert.NotEmpty(t, result.PaymentID)
}

func TestDispatcher_Send_SkippedProviderStillRecorded(t *testing.T) {
	provider := &fakeProvider{outcome: DeliverySkipped}
	d, s := setupDispatcher(t, provider)
	ctx := context.Background()

	result, err := d.Send(ctx, sendParams("user-1"))
	require.NoError(t, err)
	assert.Equal(t, DeliverySkipped, result.Delivery)

	notifications, err := s.ListNotifications(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, store.NotificationSent, notifications[0].Status)
}

func TestDispatcher_Send_LimitReached(t *testing.T) {
	provider := &fakeProvider{outcome: DeliverySent}
	d, s := setupDispatcher(t, provider)
	ctx := context.Background()

	subscribe(t, s, "user-1", "plan-starter-monthly")

	// Spend the full allowance through real sends.
	for i := 0; i < 100; i++ {
		_, err := d.Send(ctx, sendParams("user-1"))
		require.NoError(t, err)
	}

	_, err := d.Send(ctx, sendParams("user-1"))
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Contains(t, permErr.Reason, "limit (100) reached")

	// The denied send adds no notification past the hundred allowed.
	notifications, err := s.ListNotifications(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, notifications, 100)
}

func TestDispatcher_Send_TwoSendsTwoNotifications(t *testing.T) {
	provider := &fakeProvider{outcome: DeliverySent}
	d, s := setupDispatcher(t, provider)
	ctx := context.Background()

	first, err := d.Send(ctx, sendParams("user-1"))
	require.NoError(t, err)
	second, err := d.Send(ctx, sendParams("user-1"))
	require.NoError(t, err)

	assert.NotEqual(t, first.NotificationID, second.NotificationID)

	usages, err := s.ListUsage(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, usages, 2)
}

func TestDispatcher_Send_TypeDefaulted(t *testing.T) {
	provider := &fakeProvider{outcome: DeliverySent}
	d, _ := setupDispatcher(t, provider)

	_, err := d.Send(context.Background(), sendParams("user-1"))
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	assert.Equal(t, DefaultType, provider.requests[0].Type)
}

func subscribe(t *testing.T, s store.Store, userID, planID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Unix()

	pref := &store.PricingPreference{
		UserID:               userID,
		PricingModel:         store.PricingSubscription,
		PerNotificationPrice: decimal.RequireFromString("0.99"),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, s.UpsertPricingPreference(ctx, pref))

	sub := &store.Subscription{
		ID:        "sub-" + userID,
		UserID:    userID,
		PlanID:    planID,
		Status:    store.SubscriptionActive,
		StartedAt: now,
		ExpiresAt: now + 30*86400,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))
}
