// ABOUTME: SQLite persistence for the append-only payment ledger
// ABOUTME: Payments are inserted already confirmed; totals cover confirmed rows only

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// maxPaymentHistory bounds payment history queries to the most recent rows.
const maxPaymentHistory = 50

// CreatePayment inserts a payment row. No verification happens here; callers
// record payments that an upstream collaborator already settled.
func (s *SQLiteStore) CreatePayment(ctx context.Context, payment *Payment) error {
	query := `
		INSERT INTO payments (id, user_id, transaction_hash, network, amount, currency, status, resource, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		payment.ID,
		payment.UserID,
		nullString(payment.TransactionHash),
		payment.Network,
		payment.Amount.String(),
		payment.Currency,
		payment.Status,
		payment.Resource,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}

	s.logger.Debug("recorded payment",
		"id", payment.ID,
		"user_id", payment.UserID,
		"amount", payment.Amount.String(),
		"network", payment.Network,
	)
	return nil
}

// ListPayments retrieves a user's payments, newest first, bounded to the most
// recent 50. A smaller positive limit narrows the window further.
func (s *SQLiteStore) ListPayments(ctx context.Context, userID string, limit int) ([]*Payment, error) {
	if limit <= 0 || limit > maxPaymentHistory {
		limit = maxPaymentHistory
	}

	query := `
		SELECT id, user_id, transaction_hash, network, amount, currency, status, resource, created_at, updated_at
		FROM payments
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		var txHash sql.NullString
		var amountStr string

		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&txHash,
			&p.Network,
			&amountStr,
			&p.Currency,
			&p.Status,
			&p.Resource,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning payment row: %w", err)
		}

		p.TransactionHash = txHash.String
		p.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parsing payment amount: %w", err)
		}

		payments = append(payments, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payment rows: %w", err)
	}

	return payments, nil
}

// TotalSpent sums the amounts of a user's confirmed payments.
// Returns zero when the user has no payments.
func (s *SQLiteStore) TotalSpent(ctx context.Context, userID string) (decimal.Decimal, error) {
	query := `
		SELECT amount
		FROM payments
		WHERE user_id = ? AND status = 'confirmed'
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("querying confirmed payments: %w", err)
	}
	defer rows.Close()

	// Summed in Go rather than SQL so amounts never round-trip through floats.
	total := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return decimal.Zero, fmt.Errorf("scanning payment amount: %w", err)
		}

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parsing payment amount: %w", err)
		}
		total = total.Add(amount)
	}

	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("iterating payment rows: %w", err)
	}

	return total, nil
}
