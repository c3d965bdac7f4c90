// ABOUTME: Payment webhook handler: records confirmed payments and provisions access
// ABOUTME: One confirmed payment yields a ledger entry, a session token, and a confirmation notification

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/x402labs/notify-gateway/internal/notify"
	"github.com/x402labs/notify-gateway/internal/store"
)

type webhookRequest struct {
	UserID          string          `json:"userId"`
	UserEmail       string          `json:"userEmail,omitempty"`
	TransactionHash string          `json:"transactionHash"`
	Network         string          `json:"network"`
	Amount          decimal.Decimal `json:"amount"`
	Resource        string          `json:"resource"`
}

// handleWebhook processes a confirmed payment notification from the payment
// facilitator. It records the payment, mints a fresh session for the payer,
// and sends a confirmation notification. The confirmation send is best-effort:
// the payment and session stand even if delivery fails.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" || req.TransactionHash == "" || req.Network == "" || req.Amount.IsZero() || req.Resource == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required webhook parameters")
		return
	}

	ctx := r.Context()
	now := time.Now().Unix()

	payment := &store.Payment{
		ID:              "pay-" + uuid.New().String(),
		UserID:          req.UserID,
		TransactionHash: req.TransactionHash,
		Network:         req.Network,
		Amount:          req.Amount,
		Currency:        "USDC",
		Status:          store.PaymentConfirmed,
		Resource:        req.Resource,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		s.logger.Error("recording webhook payment failed", "user_id", req.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to record payment")
		return
	}

	token, err := s.sessions.Create(ctx, req.UserID)
	if err != nil {
		s.logger.Error("session creation failed", "user_id", req.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create MCP session")
		return
	}

	email := s.ensureUser(r, &req)

	// Best-effort confirmation; the payment already stands.
	if email != "" {
		_, err := s.notifier.Send(ctx, notify.SendParams{
			UserID:  req.UserID,
			Email:   email,
			Subject: "Payment Confirmed - Your MCP Endpoint is Ready",
			Message: "Your payment of " + req.Amount.String() + " USDC has been confirmed. Use your session token to access the notification service.",
			Type:    "payment_confirmation",
		})
		if err != nil {
			s.logger.Warn("confirmation notification failed", "user_id", req.UserID, "error", err)
		}
	}

	s.logger.Info("webhook payment processed",
		"user_id", req.UserID,
		"payment_id", payment.ID,
		"tx_hash", req.TransactionHash,
	)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"paymentId":    payment.ID,
		"sessionToken": token,
		"expiresIn":    SessionTTLSeconds,
		"message":      "Payment recorded and MCP session created",
	})
}

// ensureUser makes sure a user row exists for the payer, creating one from the
// webhook's email if needed. Returns the email to send the confirmation to,
// or empty if none is known.
func (s *Server) ensureUser(r *http.Request, req *webhookRequest) string {
	ctx := r.Context()

	user, err := s.store.GetUser(ctx, req.UserID)
	if err == nil {
		if req.UserEmail != "" {
			return req.UserEmail
		}
		return user.Email
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("user lookup failed during webhook", "user_id", req.UserID, "error", err)
		return req.UserEmail
	}

	if req.UserEmail == "" {
		return ""
	}

	now := time.Now().Unix()
	newUser := &store.User{
		ID:        req.UserID,
		Email:     req.UserEmail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveUser(ctx, newUser); err != nil {
		s.logger.Warn("creating user from webhook failed", "user_id", req.UserID, "error", err)
	}
	return req.UserEmail
}
