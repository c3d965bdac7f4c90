// ABOUTME: Tests for usage recording and subscription allowance consumption
// ABOUTME: Covers the atomic quota consume and its rollback on limit exhaustion

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupSubscriber gives a user an active subscription on the given plan.
func setupSubscriber(t *testing.T, s *SQLiteStore, userID, planID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Unix()

	pref := &PricingPreference{
		UserID:               userID,
		PricingModel:         PricingSubscription,
		PerNotificationPrice: decimal.RequireFromString("0.99"),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, s.UpsertPricingPreference(ctx, pref))

	sub := &Subscription{
		ID:        "sub-" + userID,
		UserID:    userID,
		PlanID:    planID,
		Status:    SubscriptionActive,
		StartedAt: now,
		ExpiresAt: now + 30*86400,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))
}

func TestStore_RecordUsage_PayPerUse(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	insertNotification(t, store, "notif-1", "user-1", NotificationSent, time.Now().Unix())

	charged := decimal.RequireFromString("0.99")
	usage := &NotificationUsage{
		ID:             "usage-1",
		UserID:         "user-1",
		NotificationID: "notif-1",
		PaymentID:      "pay-1",
		ChargedAmount:  &charged,
		CreatedAt:      time.Now().Unix(),
	}
	require.NoError(t, store.RecordUsage(ctx, usage))

	usages, err := store.ListUsage(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, "pay-1", usages[0].PaymentID)
	require.NotNil(t, usages[0].ChargedAmount)
	assert.True(t, usages[0].ChargedAmount.Equal(charged))
}

func TestStore_RecordUsage_ConsumesAllowance(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	setupSubscriber(t, store, "user-1", "plan-starter-monthly")
	insertNotification(t, store, "notif-1", "user-1", NotificationSent, time.Now().Unix())

	usage := &NotificationUsage{
		ID:             "usage-1",
		UserID:         "user-1",
		NotificationID: "notif-1",
		CreatedAt:      time.Now().Unix(),
	}
	require.NoError(t, store.RecordUsage(ctx, usage))

	sub, err := store.GetActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.NotificationsUsed)

	usages, err := store.ListUsage(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Empty(t, usages[0].PaymentID, "subscription usage carries no payment")
	assert.Nil(t, usages[0].ChargedAmount)
}

func TestStore_RecordUsage_QuotaExceededRollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	setupSubscriber(t, store, "user-1", "plan-starter-monthly")
	insertNotification(t, store, "notif-over", "user-1", NotificationSent, time.Now().Unix())

	// Spend the entire allowance.
	_, err := store.db.ExecContext(ctx,
		`UPDATE subscriptions SET notifications_used = 100 WHERE user_id = ?`, "user-1")
	require.NoError(t, err)

	usage := &NotificationUsage{
		ID:             "usage-over",
		UserID:         "user-1",
		NotificationID: "notif-over",
		CreatedAt:      time.Now().Unix(),
	}
	err = store.RecordUsage(ctx, usage)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// The usage insert must not survive the rollback.
	usages, err := store.ListUsage(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, usages)

	sub, err := store.GetActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), sub.NotificationsUsed)
}

func TestStore_RecordUsage_UnlimitedPlanNeverExhausts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	setupSubscriber(t, store, "user-1", "plan-unlimited-monthly")

	for i := 0; i < 5; i++ {
		notifID := fmt.Sprintf("notif-%d", i)
		insertNotification(t, store, notifID, "user-1", NotificationSent, time.Now().Unix())

		usage := &NotificationUsage{
			ID:             fmt.Sprintf("usage-%d", i),
			UserID:         "user-1",
			NotificationID: notifID,
			CreatedAt:      time.Now().Unix(),
		}
		require.NoError(t, store.RecordUsage(ctx, usage))
	}

	sub, err := store.GetActiveSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), sub.NotificationsUsed)
}
