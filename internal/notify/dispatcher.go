// ABOUTME: Notification send flow: permission gate, delivery, durable logging, usage recording
// ABOUTME: Delivery failures are non-fatal after the gate; billing writes link real payment ids

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/x402labs/notify-gateway/internal/billing"
	"github.com/x402labs/notify-gateway/internal/store"
)

// DefaultType is the provider template used when the caller gives none.
const DefaultType = "notification_system"

// payPerUseResource labels ledger entries for charges incurred by a send.
const payPerUseResource = "sendNotification"

// PermissionError is returned when the billing policy disallows a send.
// The reason is the resolver's human-readable explanation.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string { return e.Reason }

// SendParams describe one notification send request.
type SendParams struct {
	UserID  string
	Email   string
	Subject string
	Message string
	Type    string // optional, defaults to DefaultType
	Phone   string // optional
}

// SendResult reports a completed send. Delivery carries the provider step's
// own outcome so callers can distinguish a skipped or failed delivery from
// the call's overall success.
type SendResult struct {
	NotificationID string
	Delivery       DeliveryOutcome
	PaymentID      string // set when the send was charged pay-per-use
}

// Dispatcher orchestrates notification sends.
type Dispatcher struct {
	store    store.Store
	resolver *billing.Resolver
	provider Provider
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(s store.Store, resolver *billing.Resolver, provider Provider) *Dispatcher {
	return &Dispatcher{
		store:    s,
		resolver: resolver,
		provider: provider,
		logger:   slog.Default().With("component", "dispatch"),
	}
}

// Send runs the full flow: billing gate, best-effort delivery, durable
// notification row, usage record. Two identical calls produce two distinct
// notifications; idempotence is intentionally not provided.
func (d *Dispatcher) Send(ctx context.Context, params SendParams) (*SendResult, error) {
	if params.UserID == "" {
		return nil, errors.New("userId is required")
	}
	if params.Type == "" {
		params.Type = DefaultType
	}

	decision := d.resolver.Resolve(ctx, params.UserID)
	if !decision.Allowed {
		d.logger.Warn("notification not allowed", "user_id", params.UserID, "reason", decision.Reason)
		return nil, &PermissionError{Reason: decision.Reason}
	}

	outcome, err := d.provider.Deliver(ctx, DeliveryRequest{
		Type:    params.Type,
		UserID:  params.UserID,
		Email:   params.Email,
		Phone:   params.Phone,
		Subject: params.Subject,
		Message: params.Message,
	})
	if err != nil {
		// Non-fatal past the permission gate: the attempt is still recorded.
		d.logger.Warn("delivery failed", "user_id", params.UserID, "error", err)
		outcome = DeliveryFailed
	}

	// A pay-per-use send records its charge before the usage row so the usage
	// can reference a real payment id.
	var paymentID string
	if decision.RequiresPayment {
		paymentID, err = d.recordCharge(ctx, params.UserID, decision)
		if err != nil {
			return nil, fmt.Errorf("recording charge: %w", err)
		}
	}

	now := time.Now().Unix()
	status := store.NotificationSent
	if outcome == DeliveryFailed {
		status = store.NotificationFailed
	}

	notification := &store.Notification{
		ID:        "notif-" + uuid.New().String(),
		UserID:    params.UserID,
		Type:      params.Type,
		Title:     params.Subject,
		Message:   params.Message,
		Channel:   "email",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := d.store.CreateNotification(ctx, notification); err != nil {
		d.logFailedAttempt(ctx, notification)
		return nil, fmt.Errorf("logging notification: %w", err)
	}

	usage := &store.NotificationUsage{
		ID:             "usage-" + uuid.New().String(),
		UserID:         params.UserID,
		NotificationID: notification.ID,
		PaymentID:      paymentID,
		CreatedAt:      now,
	}
	if decision.RequiresPayment {
		amount := decision.ChargeAmount
		usage.ChargedAmount = &amount
	}

	if err := d.store.RecordUsage(ctx, usage); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			// Lost the race against a concurrent send for the same allowance.
			return nil, &PermissionError{Reason: "Monthly notification limit reached. Upgrade or wait for reset."}
		}
		return nil, fmt.Errorf("recording usage: %w", err)
	}

	d.logger.Info("notification processed",
		"notification_id", notification.ID,
		"user_id", params.UserID,
		"delivery", string(outcome),
		"charged", decision.RequiresPayment,
	)

	return &SendResult{
		NotificationID: notification.ID,
		Delivery:       outcome,
		PaymentID:      paymentID,
	}, nil
}

// recordCharge writes a confirmed pay-per-use payment and returns its id.
func (d *Dispatcher) recordCharge(ctx context.Context, userID string, decision billing.Decision) (string, error) {
	now := time.Now().Unix()
	payment := &store.Payment{
		ID:        "pay-" + uuid.New().String(),
		UserID:    userID,
		Network:   "base",
		Amount:    decision.ChargeAmount,
		Currency:  "USDC",
		Status:    store.PaymentConfirmed,
		Resource:  payPerUseResource,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := d.store.CreatePayment(ctx, payment); err != nil {
		return "", err
	}
	return payment.ID, nil
}

// logFailedAttempt tries to preserve a failed send as a status=failed row.
// Best effort only; the original error is what surfaces to the caller.
func (d *Dispatcher) logFailedAttempt(ctx context.Context, n *store.Notification) {
	fallback := *n
	fallback.ID = "notif-" + uuid.New().String()
	fallback.Status = store.NotificationFailed

	if err := d.store.CreateNotification(ctx, &fallback); err != nil {
		d.logger.Error("could not log failed notification", "user_id", n.UserID, "error", err)
	}
}
