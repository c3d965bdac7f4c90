// ABOUTME: SQLite persistence for per-notification usage records
// ABOUTME: Usage insert and subscription allowance consume run in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecordUsage inserts a usage row and, for subscription users, consumes one
// allowance unit on the active subscription. Both writes commit together: the
// allowance update is conditional on the plan limit, so when the limit is
// already spent the whole transaction rolls back and ErrQuotaExceeded is
// returned. This keeps the quota invariant intact under concurrent sends.
func (s *SQLiteStore) RecordUsage(ctx context.Context, usage *NotificationUsage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notification_usage (id, user_id, notification_id, payment_id, charged_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		usage.ID,
		usage.UserID,
		usage.NotificationID,
		nullString(usage.PaymentID),
		nullDecimal(usage.ChargedAmount),
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	var pricingModel string
	err = tx.QueryRowContext(ctx,
		`SELECT pricing_model FROM user_pricing_preferences WHERE user_id = ?`,
		usage.UserID,
	).Scan(&pricingModel)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("querying pricing model: %w", err)
	}

	if pricingModel == PricingSubscription {
		result, err := tx.ExecContext(ctx, `
			UPDATE subscriptions
			SET notifications_used = notifications_used + 1, updated_at = ?
			WHERE user_id = ? AND status = 'active'
			  AND id IN (
				SELECT s.id
				FROM subscriptions s
				JOIN subscription_plans p ON s.plan_id = p.id
				WHERE s.user_id = ? AND s.status = 'active'
				  AND (p.notification_limit IS NULL OR s.notifications_used < p.notification_limit)
			  )
		`, time.Now().Unix(), usage.UserID, usage.UserID)
		if err != nil {
			return fmt.Errorf("consuming allowance: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrQuotaExceeded
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing usage: %w", err)
	}

	s.logger.Debug("recorded usage",
		"id", usage.ID,
		"user_id", usage.UserID,
		"notification_id", usage.NotificationID,
		"payment_id", usage.PaymentID,
	)
	return nil
}

// ListUsage retrieves a user's usage rows, newest first.
func (s *SQLiteStore) ListUsage(ctx context.Context, userID string) ([]*NotificationUsage, error) {
	query := `
		SELECT id, user_id, notification_id, payment_id, charged_amount, created_at
		FROM notification_usage
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var usages []*NotificationUsage
	for rows.Next() {
		var u NotificationUsage
		var paymentID, chargedAmount sql.NullString

		if err := rows.Scan(
			&u.ID,
			&u.UserID,
			&u.NotificationID,
			&paymentID,
			&chargedAmount,
			&u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}

		u.PaymentID = paymentID.String
		if chargedAmount.Valid {
			amount, err := decimal.NewFromString(chargedAmount.String)
			if err != nil {
				return nil, fmt.Errorf("parsing charged_amount: %w", err)
			}
			u.ChargedAmount = &amount
		}

		usages = append(usages, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usages, nil
}
