// ABOUTME: HTTP surface for the MCP endpoint and its companion REST routes
// ABOUTME: Session creation, mark-read, user, subscription and webhook endpoints

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/x402labs/notify-gateway/internal/notify"
	"github.com/x402labs/notify-gateway/internal/session"
	"github.com/x402labs/notify-gateway/internal/store"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Subscription durations by billing period.
const (
	monthlySubscriptionTTL = 30 * 24 * time.Hour
	yearlySubscriptionTTL  = 365 * 24 * time.Hour
)

// Server exposes the MCP dispatcher and companion REST endpoints over HTTP.
type Server struct {
	dispatcher *Dispatcher
	sessions   *session.Manager
	store      store.Store
	notifier   *notify.Dispatcher
	logger     *slog.Logger
}

// NewServer creates an HTTP server over the given components.
func NewServer(s store.Store, sessions *session.Manager, notifier *notify.Dispatcher) *Server {
	return &Server{
		dispatcher: NewDispatcher(s, sessions, notifier),
		sessions:   sessions,
		store:      s,
		notifier:   notifier,
		logger:     slog.Default().With("component", "http"),
	}
}

// RegisterRoutes attaches all endpoints to the given router.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/mcp", s.handleMCP).Methods(http.MethodPost)
	r.HandleFunc("/api/mcp", s.handleMCPInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/mcp/session", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/api/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPost)
	r.HandleFunc("/api/users", s.handleGetUser).Methods(http.MethodGet)
	r.HandleFunc("/api/users", s.handleSaveUser).Methods(http.MethodPost)
	r.HandleFunc("/api/subscriptions", s.handleGetSubscription).Methods(http.MethodGet)
	r.HandleFunc("/api/subscriptions", s.handleCreateSubscription).Methods(http.MethodPost)
	r.HandleFunc("/api/x402/webhook", s.handleWebhook).Methods(http.MethodPost)
}

// handleMCP is the single MCP entry point: one POST, one envelope.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeEnvelope(w, Response{Error: "failed to read request body", Timestamp: time.Now().Unix()})
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeEnvelope(w, Response{Error: "request body too large", Timestamp: time.Now().Unix()})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeEnvelope(w, Response{Error: "invalid JSON", Timestamp: time.Now().Unix()})
		return
	}
	if req.Method == "" {
		s.writeEnvelope(w, Response{Error: "method is required", Timestamp: time.Now().Unix()})
		return
	}

	resp := s.dispatcher.Handle(r.Context(), req)
	s.writeEnvelope(w, resp)
}

// handleMCPInfo serves service metadata for discovery.
func (s *Server) handleMCPInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "notify-gateway MCP server",
		"version": "1.0.0",
		"methods": Methods,
	})
}

// handleCreateSession mints a session directly, outside the MCP envelope.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	token, err := s.sessions.Create(r.Context(), body.UserID)
	if err != nil {
		s.logger.Error("session creation failed", "user_id", body.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create MCP session")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"sessionToken": token,
		"expiresIn":    SessionTTLSeconds,
		"message":      "MCP session created successfully",
	})
}

// handleMarkRead marks a notification read, keyed by path id.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.store.MarkNotificationRead(r.Context(), id, "")
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Notification not found")
		return
	}
	if err != nil {
		s.logger.Error("mark read failed", "notification_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to mark notification as read")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Notification marked as read",
	})
}

// handleGetUser serves GET /api/users?userId=...
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId parameter is required")
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("user lookup failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch user")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    newUserView(user),
	})
}

// handleSaveUser upserts a user profile.
func (s *Server) handleSaveUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID        string          `json:"userId"`
		Email         string          `json:"email"`
		Phone         string          `json:"phone,omitempty"`
		Preferences   json.RawMessage `json:"preferences,omitempty"`
		WalletAddress string          `json:"walletAddress,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.UserID == "" || body.Email == "" {
		s.writeError(w, http.StatusBadRequest, "userId and email are required")
		return
	}

	now := time.Now().Unix()
	user := &store.User{
		ID:            body.UserID,
		Email:         body.Email,
		Phone:         body.Phone,
		Preferences:   string(body.Preferences),
		WalletAddress: body.WalletAddress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.SaveUser(r.Context(), user); err != nil {
		s.logger.Error("saving user failed", "user_id", body.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save user")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User saved successfully",
	})
}

// handleGetSubscription serves the current pricing preference and active
// subscription for a user.
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId parameter is required")
		return
	}

	resp := map[string]any{
		"success":      true,
		"pricingModel": nil,
		"subscription": nil,
	}

	pref, err := s.store.GetPricingPreference(r.Context(), userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("pricing preference lookup failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch subscription")
		return
	}
	if pref != nil {
		resp["pricingModel"] = newPricingPreferenceView(pref)

		if pref.PricingModel == store.PricingSubscription {
			sub, err := s.store.GetActiveSubscription(r.Context(), userID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				s.logger.Error("subscription lookup failed", "user_id", userID, "error", err)
				s.writeError(w, http.StatusInternalServerError, "Failed to fetch subscription")
				return
			}
			if sub != nil {
				resp["subscription"] = newSubscriptionView(sub)
			}
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleCreateSubscription upserts a pricing preference and, for the
// subscription model, creates the subscription row with plan-derived expiry.
func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID               string          `json:"userId"`
		PricingModel         string          `json:"pricingModel"`
		PlanID               string          `json:"planId,omitempty"`
		PerNotificationPrice decimal.Decimal `json:"perNotificationPrice,omitempty"`
		PaymentID            string          `json:"paymentId,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.UserID == "" || body.PricingModel == "" {
		s.writeError(w, http.StatusBadRequest, "userId and pricingModel are required")
		return
	}
	if body.PricingModel != store.PricingPayPerUse && body.PricingModel != store.PricingSubscription {
		s.writeError(w, http.StatusBadRequest, "pricingModel must be pay-per-use or subscription")
		return
	}

	now := time.Now()
	price := body.PerNotificationPrice
	if price.IsZero() {
		price = decimal.RequireFromString("0.99")
	}

	pref := &store.PricingPreference{
		UserID:               body.UserID,
		PricingModel:         body.PricingModel,
		PerNotificationPrice: price,
		CreatedAt:            now.Unix(),
		UpdatedAt:            now.Unix(),
	}
	if err := s.store.UpsertPricingPreference(r.Context(), pref); err != nil {
		s.logger.Error("pricing preference upsert failed", "user_id", body.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to update pricing preference")
		return
	}

	if body.PricingModel != store.PricingSubscription || body.PlanID == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Pricing preference updated successfully",
		})
		return
	}

	plan, err := s.store.GetPlan(r.Context(), body.PlanID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusBadRequest, "Invalid plan ID")
		return
	}
	if err != nil {
		s.logger.Error("plan lookup failed", "plan_id", body.PlanID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	ttl := monthlySubscriptionTTL
	if plan.BillingPeriod == "yearly" {
		ttl = yearlySubscriptionTTL
	}

	sub := &store.Subscription{
		ID:        "sub-" + uuid.New().String(),
		UserID:    body.UserID,
		PlanID:    plan.ID,
		Status:    store.SubscriptionActive,
		StartedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		PaymentID: body.PaymentID,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}
	if err := s.store.CreateSubscription(r.Context(), sub); err != nil {
		s.logger.Error("subscription creation failed", "user_id", body.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Subscription created successfully",
		"subscriptionId": sub.ID,
		"expiresAt":      sub.ExpiresAt,
	})
}

// writeEnvelope serializes an MCP response with its derived HTTP status.
func (s *Server) writeEnvelope(w http.ResponseWriter, resp Response) {
	s.writeJSON(w, resp.HTTPStatus(), resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
