// ABOUTME: SQLite persistence for pricing preferences, plans and subscriptions
// ABOUTME: Active-subscription lookups join the plan so callers see the limit

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UpsertPricingPreference inserts or replaces a user's pricing preference.
// Last write wins.
func (s *SQLiteStore) UpsertPricingPreference(ctx context.Context, pref *PricingPreference) error {
	query := `
		INSERT INTO user_pricing_preferences (user_id, pricing_model, per_notification_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			pricing_model = excluded.pricing_model,
			per_notification_price = excluded.per_notification_price,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		pref.UserID,
		pref.PricingModel,
		pref.PerNotificationPrice.String(),
		pref.CreatedAt,
		pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting pricing preference: %w", err)
	}

	s.logger.Debug("upserted pricing preference", "user_id", pref.UserID, "model", pref.PricingModel)
	return nil
}

// GetPricingPreference retrieves a user's pricing preference.
// Returns ErrNotFound when the user never chose a model.
func (s *SQLiteStore) GetPricingPreference(ctx context.Context, userID string) (*PricingPreference, error) {
	query := `
		SELECT user_id, pricing_model, per_notification_price, created_at, updated_at
		FROM user_pricing_preferences
		WHERE user_id = ?
	`

	var pref PricingPreference
	var priceStr string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&pref.UserID,
		&pref.PricingModel,
		&priceStr,
		&pref.CreatedAt,
		&pref.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pricing preference: %w", err)
	}

	pref.PerNotificationPrice, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parsing per_notification_price: %w", err)
	}

	return &pref, nil
}

// GetPlan retrieves a subscription plan from the catalog.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*SubscriptionPlan, error) {
	query := `
		SELECT id, name, notification_limit, price, billing_period
		FROM subscription_plans
		WHERE id = ?
	`

	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan: %w", err)
	}

	return plan, nil
}

// ListPlans returns the full plan catalog.
func (s *SQLiteStore) ListPlans(ctx context.Context) ([]*SubscriptionPlan, error) {
	query := `
		SELECT id, name, notification_limit, price, billing_period
		FROM subscription_plans
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	var plans []*SubscriptionPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan row: %w", err)
		}
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plan rows: %w", err)
	}

	return plans, nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*SubscriptionPlan, error) {
	var plan SubscriptionPlan
	var limit sql.NullInt64
	var priceStr string

	if err := row.Scan(&plan.ID, &plan.Name, &limit, &priceStr, &plan.BillingPeriod); err != nil {
		return nil, err
	}

	if limit.Valid {
		plan.NotificationLimit = &limit.Int64
	}

	var err error
	plan.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parsing plan price: %w", err)
	}

	return &plan, nil
}

// CreateSubscription inserts a new subscription row. Any previously active
// subscription for the user is marked expired first, preserving the invariant
// that at most one row per user is active.
func (s *SQLiteStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = ?
		WHERE user_id = ? AND status = 'active'
	`, now, sub.UserID)
	if err != nil {
		return fmt.Errorf("expiring previous subscription: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, status, started_at, expires_at, notifications_used, payment_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID,
		sub.UserID,
		sub.PlanID,
		sub.Status,
		sub.StartedAt,
		sub.ExpiresAt,
		sub.NotificationsUsed,
		nullString(sub.PaymentID),
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing subscription: %w", err)
	}

	s.logger.Debug("created subscription", "id", sub.ID, "user_id", sub.UserID, "plan_id", sub.PlanID)
	return nil
}

// GetActiveSubscription retrieves the user's single active subscription joined
// to its plan. Returns ErrNotFound when the user has no active subscription.
func (s *SQLiteStore) GetActiveSubscription(ctx context.Context, userID string) (*SubscriptionWithPlan, error) {
	query := `
		SELECT s.id, s.user_id, s.plan_id, s.status, s.started_at, s.expires_at,
		       s.notifications_used, s.payment_id, s.created_at, s.updated_at,
		       p.name, p.notification_limit, p.price
		FROM subscriptions s
		JOIN subscription_plans p ON s.plan_id = p.id
		WHERE s.user_id = ? AND s.status = 'active'
		ORDER BY s.created_at DESC
		LIMIT 1
	`

	var sub SubscriptionWithPlan
	var paymentID sql.NullString
	var limit sql.NullInt64
	var priceStr string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.Status,
		&sub.StartedAt,
		&sub.ExpiresAt,
		&sub.NotificationsUsed,
		&paymentID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
		&sub.PlanName,
		&limit,
		&priceStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active subscription: %w", err)
	}

	sub.PaymentID = paymentID.String
	if limit.Valid {
		sub.NotificationLimit = &limit.Int64
	}

	sub.PlanPrice, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parsing plan price: %w", err)
	}

	return &sub, nil
}
