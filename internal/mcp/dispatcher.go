// ABOUTME: MCP request dispatcher: authenticates session tokens and routes typed methods
// ABOUTME: Every code path resolves to the uniform success/error envelope

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/x402labs/notify-gateway/internal/notify"
	"github.com/x402labs/notify-gateway/internal/session"
	"github.com/x402labs/notify-gateway/internal/store"
)

// Methods exposed over the MCP surface. createSession is the only one that
// runs unauthenticated.
const (
	MethodCreateSession        = "createSession"
	MethodSendNotification     = "sendNotification"
	MethodGetNotifications     = "getNotifications"
	MethodMarkNotificationRead = "markNotificationRead"
	MethodGetPaymentHistory    = "getPaymentHistory"
	MethodGetTotalSpent        = "getTotalSpent"
	MethodGetUser              = "getUser"
)

// Methods lists every known method, for the service info endpoint.
var Methods = []string{
	MethodCreateSession,
	MethodSendNotification,
	MethodGetNotifications,
	MethodMarkNotificationRead,
	MethodGetPaymentHistory,
	MethodGetTotalSpent,
	MethodGetUser,
}

// SessionTTLSeconds is advertised to clients on session creation.
const SessionTTLSeconds = 86400

// errInvalidSessionMsg is the wire-facing auth failure message. Never-issued
// and expired tokens produce the same message.
const errInvalidSessionMsg = "Invalid or expired session token"

// Request is the wire format of one MCP call.
type Request struct {
	Method       string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
	SessionToken string          `json:"sessionToken,omitempty"`
}

// Response is the uniform envelope every request resolves to.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`

	status int
}

// HTTPStatus returns the HTTP status the envelope should be served with:
// 200 on success, 400 for caller-caused failures, 500 for internal faults.
func (r Response) HTTPStatus() int {
	if r.status != 0 {
		return r.status
	}
	if r.Success {
		return 200
	}
	return 400
}

// Per-method parameter shapes. Params decode into these before dispatch
// rather than being threaded through as an untyped bag.

type createSessionParams struct {
	UserID string `json:"userId"`
}

type sendNotificationParams struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type markReadParams struct {
	NotificationID string `json:"notificationId"`
}

// Dispatcher authenticates and routes MCP requests to component operations.
type Dispatcher struct {
	store    store.Store
	sessions *session.Manager
	notifier *notify.Dispatcher
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(s store.Store, sessions *session.Manager, notifier *notify.Dispatcher) *Dispatcher {
	return &Dispatcher{
		store:    s,
		sessions: sessions,
		notifier: notifier,
		logger:   slog.Default().With("component", "mcp"),
	}
}

// Handle processes one MCP request. It never lets a fault escape: panics and
// unexpected errors all resolve to the envelope.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in MCP handler", "method", req.Method, "panic", r)
			resp = d.internalError("Internal server error")
		}
	}()

	if req.Method == MethodCreateSession {
		return d.handleCreateSession(ctx, req.Params)
	}

	// Every other method requires a valid session; the authenticated user id
	// is what all handlers operate on, whatever the params claim.
	userID, err := d.sessions.Validate(ctx, req.SessionToken)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidSession) {
			d.logger.Error("session validation failed", "error", err)
		}
		return d.fail(errInvalidSessionMsg)
	}

	d.logger.Debug("MCP request", "method", req.Method, "user_id", userID)

	switch req.Method {
	case MethodSendNotification:
		return d.handleSendNotification(ctx, userID, req.Params)
	case MethodGetNotifications:
		return d.handleGetNotifications(ctx, userID)
	case MethodMarkNotificationRead:
		return d.handleMarkRead(ctx, userID, req.Params)
	case MethodGetPaymentHistory:
		return d.handleGetPayments(ctx, userID)
	case MethodGetTotalSpent:
		return d.handleGetTotalSpent(ctx, userID)
	case MethodGetUser:
		return d.handleGetUser(ctx, userID)
	default:
		return d.fail(fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func (d *Dispatcher) handleCreateSession(ctx context.Context, raw json.RawMessage) Response {
	var params createSessionParams
	if err := decodeParams(raw, &params); err != nil {
		return d.fail("invalid params")
	}
	if params.UserID == "" {
		return d.fail("userId is required")
	}

	token, err := d.sessions.Create(ctx, params.UserID)
	if err != nil {
		d.logger.Error("session creation failed", "user_id", params.UserID, "error", err)
		return d.internalError("Failed to create session")
	}

	return d.ok(map[string]any{
		"sessionToken": token,
		"expiresIn":    SessionTTLSeconds,
	})
}

func (d *Dispatcher) handleSendNotification(ctx context.Context, userID string, raw json.RawMessage) Response {
	var params sendNotificationParams
	if err := decodeParams(raw, &params); err != nil {
		return d.fail("invalid params")
	}
	if params.Email == "" || params.Subject == "" || params.Message == "" {
		return d.fail("email, subject, and message are required")
	}

	result, err := d.notifier.Send(ctx, notify.SendParams{
		UserID:  userID,
		Email:   params.Email,
		Subject: params.Subject,
		Message: params.Message,
		Type:    params.Type,
		Phone:   params.Phone,
	})
	if err != nil {
		var permErr *notify.PermissionError
		if errors.As(err, &permErr) {
			return d.fail(permErr.Reason)
		}
		d.logger.Error("send failed", "user_id", userID, "error", err)
		return d.internalError(err.Error())
	}

	return d.ok(map[string]any{
		"notificationId": result.NotificationID,
		"delivery":       string(result.Delivery),
	})
}

func (d *Dispatcher) handleGetNotifications(ctx context.Context, userID string) Response {
	notifications, err := d.store.ListNotifications(ctx, userID)
	if err != nil {
		d.logger.Error("listing notifications failed", "user_id", userID, "error", err)
		return d.internalError("Failed to fetch notifications")
	}

	views := make([]notificationView, 0, len(notifications))
	for _, n := range notifications {
		views = append(views, newNotificationView(n))
	}

	return d.ok(map[string]any{
		"notifications": views,
		"count":         len(views),
	})
}

func (d *Dispatcher) handleMarkRead(ctx context.Context, userID string, raw json.RawMessage) Response {
	var params markReadParams
	if err := decodeParams(raw, &params); err != nil {
		return d.fail("invalid params")
	}
	if params.NotificationID == "" {
		return d.fail("notificationId is required")
	}

	err := d.store.MarkNotificationRead(ctx, params.NotificationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return d.fail("Notification not found")
	}
	if err != nil {
		d.logger.Error("mark read failed", "notification_id", params.NotificationID, "error", err)
		return d.internalError("Failed to mark notification as read")
	}

	return d.ok(map[string]any{"notificationId": params.NotificationID})
}

func (d *Dispatcher) handleGetPayments(ctx context.Context, userID string) Response {
	payments, err := d.store.ListPayments(ctx, userID, 0)
	if err != nil {
		d.logger.Error("listing payments failed", "user_id", userID, "error", err)
		return d.internalError("Failed to fetch payments")
	}

	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, newPaymentView(p))
	}

	return d.ok(map[string]any{
		"payments": views,
		"count":    len(views),
	})
}

func (d *Dispatcher) handleGetTotalSpent(ctx context.Context, userID string) Response {
	total, err := d.store.TotalSpent(ctx, userID)
	if err != nil {
		d.logger.Error("total spent failed", "user_id", userID, "error", err)
		return d.internalError("Failed to calculate total spent")
	}

	return d.ok(map[string]any{
		"totalSpent": total,
		"currency":   "USDC",
	})
}

func (d *Dispatcher) handleGetUser(ctx context.Context, userID string) Response {
	user, err := d.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return d.fail("User not found")
	}
	if err != nil {
		d.logger.Error("user lookup failed", "user_id", userID, "error", err)
		return d.internalError("Failed to fetch user")
	}

	return d.ok(map[string]any{"user": newUserView(user)})
}

// decodeParams unmarshals raw params, tolerating absent params for methods
// that don't need any.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func (d *Dispatcher) ok(data any) Response {
	return Response{Success: true, Data: data, Timestamp: time.Now().Unix()}
}

func (d *Dispatcher) fail(msg string) Response {
	return Response{Error: msg, Timestamp: time.Now().Unix()}
}

func (d *Dispatcher) internalError(msg string) Response {
	return Response{Error: msg, Timestamp: time.Now().Unix(), status: 500}
}
