// ABOUTME: HTTP-level tests for the MCP endpoint and companion REST routes
// ABOUTME: Covers envelope status codes, session creation, webhook provisioning, and subscriptions

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402labs/notify-gateway/internal/billing"
	"github.com/x402labs/notify-gateway/internal/notify"
	"github.com/x402labs/notify-gateway/internal/session"
	"github.com/x402labs/notify-gateway/internal/store"
)

func setupServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sessions := session.NewManager(s)
	notifier := notify.NewDispatcher(s, billing.NewResolver(s), stubProvider{})

	router := mux.NewRouter()
	NewServer(s, sessions, notifier).RegisterRoutes(router)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, s
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestServer_MCP_MissingMethod(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/mcp", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "method is required", body["error"])
	assert.NotNil(t, body["timestamp"])
}

func TestServer_MCP_InvalidJSON(t *testing.T) {
	ts, _ := setupServer(t)

	resp, err := http.Post(ts.URL+"/api/mcp", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_MCP_EndToEnd(t *testing.T) {
	ts, _ := setupServer(t)

	// Create a session over the MCP method itself.
	resp, body := postJSON(t, ts.URL+"/api/mcp", map[string]any{
		"method": "createSession",
		"params": map[string]string{"userId": "user-1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	token := body["data"].(map[string]any)["sessionToken"].(string)

	// Send a notification with the token.
	resp, body = postJSON(t, ts.URL+"/api/mcp", map[string]any{
		"method":       "sendNotification",
		"sessionToken": token,
		"params": map[string]string{
			"email":   "user@example.com",
			"subject": "Hello",
			"message": "test",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	notificationID := body["data"].(map[string]any)["notificationId"].(string)
	assert.NotEmpty(t, notificationID)

	// It shows up in the listing.
	resp, body = postJSON(t, ts.URL+"/api/mcp", map[string]any{
		"method":       "getNotifications",
		"sessionToken": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["count"])
}

func TestServer_MCP_InvalidToken(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/mcp", map[string]any{
		"method":       "getNotifications",
		"sessionToken": "tok-bogus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid or expired session token", body["error"])
}

func TestServer_MCPInfo(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := getJSON(t, ts.URL+"/api/mcp")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["methods"], len(Methods))
}

func TestServer_CreateSessionEndpoint(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/mcp/session", map[string]string{"userId": "user-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["sessionToken"])
	assert.Equal(t, float64(SessionTTLSeconds), body["expiresIn"])
}

func TestServer_CreateSessionEndpoint_MissingUserID(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/mcp/session", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "userId is required", body["error"])
}

func TestServer_MarkRead(t *testing.T) {
	ts, s := setupServer(t)
	ctx := context.Background()

	now := time.Now().Unix()
	n := &store.Notification{
		ID: "notif-1", UserID: "user-1", Type: "notification_system",
		Title: "Hi", Message: "msg", Channel: "email",
		Status: store.NotificationSent, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateNotification(ctx, n))

	resp, body := postJSON(t, ts.URL+"/api/notifications/notif-1/read", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Notification marked as read", body["message"])

	notifications, err := s.ListNotifications(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, store.NotificationRead, notifications[0].Status)
}

func TestServer_MarkRead_NotFound(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/notifications/notif-missing/read", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Notification not found", body["error"])
}

func TestServer_Users_SaveAndGet(t *testing.T) {
	ts, _ := setupServer(t)

	resp, _ := postJSON(t, ts.URL+"/api/users", map[string]string{
		"userId": "user-1",
		"email":  "alice@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := getJSON(t, ts.URL+"/api/users?userId=user-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
}

func TestServer_Users_GetNotFound(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := getJSON(t, ts.URL+"/api/users?userId=nobody")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "User not found", body["error"])
}

func TestServer_Subscriptions_PayPerUse(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/subscriptions", map[string]any{
		"userId":               "user-1",
		"pricingModel":         "pay-per-use",
		"perNotificationPrice": "0.50",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Pricing preference updated successfully", body["message"])

	resp, body = getJSON(t, ts.URL+"/api/subscriptions?userId=user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	model := body["pricingModel"].(map[string]any)
	assert.Equal(t, "pay-per-use", model["pricingModel"])
	assert.Nil(t, body["subscription"])
}

func TestServer_Subscriptions_CreateSubscription(t *testing.T) {
	ts, s := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/subscriptions", map[string]any{
		"userId":       "user-1",
		"pricingModel": "subscription",
		"planId":       "plan-pro-monthly",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["subscriptionId"])

	// Expiry is about a month out.
	expiresAt := int64(body["expiresAt"].(float64))
	assert.InDelta(t, time.Now().Add(30*24*time.Hour).Unix(), expiresAt, 60)

	sub, err := s.GetActiveSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "plan-pro-monthly", sub.PlanID)
}

func TestServer_Subscriptions_InvalidPlan(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/subscriptions", map[string]any{
		"userId":       "user-1",
		"pricingModel": "subscription",
		"planId":       "plan-bogus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid plan ID", body["error"])
}

func TestServer_Webhook_ProvisionsAccess(t *testing.T) {
	ts, s := setupServer(t)
	ctx := context.Background()

	resp, body := postJSON(t, ts.URL+"/api/x402/webhook", map[string]any{
		"userId":          "user-1",
		"userEmail":       "alice@example.com",
		"transactionHash": "0xdeadbeef",
		"network":         "base",
		"amount":          "5.00",
		"resource":        "mcp-access",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["paymentId"])
	assert.NotEmpty(t, body["sessionToken"])

	// Payment is in the ledger. The confirmation notification adds its own
	// pay-per-use charge, so look the webhook payment up by transaction hash.
	payments, err := s.ListPayments(ctx, "user-1", 0)
	require.NoError(t, err)
	var webhookPayment *store.Payment
	for _, p := range payments {
		if p.TransactionHash == "0xdeadbeef" {
			webhookPayment = p
		}
	}
	require.NotNil(t, webhookPayment)
	assert.Equal(t, store.PaymentConfirmed, webhookPayment.Status)

	// The user row was created from the webhook email.
	user, err := s.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)

	// The minted token works against the MCP surface.
	token := body["sessionToken"].(string)
	resp, mcpBody := postJSON(t, ts.URL+"/api/mcp", map[string]any{
		"method":       "getPaymentHistory",
		"sessionToken": token,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, mcpBody["success"])
}

func TestServer_Webhook_MissingParameters(t *testing.T) {
	ts, _ := setupServer(t)

	resp, body := postJSON(t, ts.URL+"/api/x402/webhook", map[string]any{
		"userId": "user-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required webhook parameters", body["error"])
}
