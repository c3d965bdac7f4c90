// ABOUTME: Delivery provider client for the external multi-channel notification API
// ABOUTME: Delivery is best-effort; missing credentials skip the call without failing

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultProviderBaseURL is the delivery API endpoint used when the config
// doesn't override it.
const DefaultProviderBaseURL = "https://api.notificationapi.com"

// DeliveryOutcome is the result of the delivery step alone, independent of
// whether the overall send call succeeds.
type DeliveryOutcome string

const (
	// DeliverySkipped means no delivery was attempted (provider not configured).
	DeliverySkipped DeliveryOutcome = "skipped"
	// DeliverySent means the provider accepted the notification.
	DeliverySent DeliveryOutcome = "sent"
	// DeliveryFailed means the provider was called and reported an error.
	DeliveryFailed DeliveryOutcome = "failed"
)

// DeliveryRequest describes one notification handed to the provider.
type DeliveryRequest struct {
	Type    string // provider-side template id
	UserID  string
	Email   string
	Phone   string // optional
	Subject string
	Message string
}

// Provider delivers notifications through an external channel.
type Provider interface {
	Deliver(ctx context.Context, req DeliveryRequest) (DeliveryOutcome, error)
}

// APIClient talks to the hosted notification delivery API.
type APIClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewAPIClient creates a delivery client. Empty credentials produce a client
// that skips every delivery, which keeps local development working without a
// provider account.
func NewAPIClient(baseURL, clientID, clientSecret string) *APIClient {
	if baseURL == "" {
		baseURL = DefaultProviderBaseURL
	}

	logger := slog.Default().With("component", "notify")
	if clientID == "" || clientSecret == "" {
		logger.Warn("delivery provider credentials missing - notifications will be logged to database only")
	}

	return &APIClient{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

// providerUser mirrors the provider's user object.
type providerUser struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Number string `json:"number,omitempty"`
}

// providerPayload mirrors the provider's send request body.
type providerPayload struct {
	NotificationID string            `json:"notificationId"`
	User           providerUser      `json:"user"`
	MergeTags      map[string]string `json:"mergeTags"`
}

// Deliver sends one notification through the provider. Returns
// DeliverySkipped without error when credentials are not configured.
func (c *APIClient) Deliver(ctx context.Context, req DeliveryRequest) (DeliveryOutcome, error) {
	if c.clientID == "" || c.clientSecret == "" {
		c.logger.Debug("skipping delivery (provider not configured)", "user_id", req.UserID)
		return DeliverySkipped, nil
	}

	payload := providerPayload{
		NotificationID: req.Type,
		User: providerUser{
			ID:     req.UserID,
			Email:  req.Email,
			Number: req.Phone,
		},
		MergeTags: map[string]string{
			"subject": req.Subject,
			"message": req.Message,
			"title":   req.Subject,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryFailed, fmt.Errorf("encoding delivery payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/sender", c.baseURL, c.clientID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return DeliveryFailed, fmt.Errorf("building delivery request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return DeliveryFailed, fmt.Errorf("calling delivery provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return DeliveryFailed, fmt.Errorf("delivery provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.Debug("delivered notification", "user_id", req.UserID, "type", req.Type)
	return DeliverySent, nil
}

var _ Provider = (*APIClient)(nil)
