// ABOUTME: Tests for the delivery provider client
// ABOUTME: Covers the wire payload, auth, skip behavior, and provider errors

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_Deliver(t *testing.T) {
	var gotPath string
	var gotPayload providerPayload
	var gotUser, gotPass string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewAPIClient(ts.URL, "client-1", "secret-1")

	outcome, err := client.Deliver(context.Background(), DeliveryRequest{
		Type:    "notification_system",
		UserID:  "user-1",
		Email:   "user@example.com",
		Phone:   "+15551234567",
		Subject: "Hello",
		Message: "test message",
	})
	require.NoError(t, err)
	assert.Equal(t, DeliverySent, outcome)

	assert.Equal(t, "/client-1/sender", gotPath)
	assert.Equal(t, "client-1", gotUser)
	assert.Equal(t, "secret-1", gotPass)
	assert.Equal(t, "notification_system", gotPayload.NotificationID)
	assert.Equal(t, "user-1", gotPayload.User.ID)
	assert.Equal(t, "+15551234567", gotPayload.User.Number)
	assert.Equal(t, "Hello", gotPayload.MergeTags["subject"])
	assert.Equal(t, "Hello", gotPayload.MergeTags["title"])
	assert.Equal(t, "test message", gotPayload.MergeTags["message"])
}

func TestAPIClient_Deliver_SkipsWithoutCredentials(t *testing.T) {
	client := NewAPIClient("", "", "")

	outcome, err := client.Deliver(context.Background(), DeliveryRequest{
		UserID: "user-1",
		Email:  "user@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, DeliverySkipped, outcome)
}

func TestAPIClient_Deliver_ProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid template", http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	client := NewAPIClient(ts.URL, "client-1", "secret-1")

	outcome, err := client.Deliver(context.Background(), DeliveryRequest{
		UserID: "user-1",
		Email:  "user@example.com",
	})
	require.Error(t, err)
	assert.Equal(t, DeliveryFailed, outcome)
	assert.Contains(t, err.Error(), "422")
}
