// ABOUTME: Store interface and data types for notify-gateway persistence
// ABOUTME: Defines the entities (users, sessions, billing, ledger) and the Store interface

package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateToken is returned when a session token collides with an existing one
var ErrDuplicateToken = errors.New("session token already exists")

// ErrQuotaExceeded is returned when recording usage would push a subscription
// past its plan's notification limit
var ErrQuotaExceeded = errors.New("notification limit reached")

// Pricing model constants
const (
	PricingPayPerUse    = "pay-per-use"
	PricingSubscription = "subscription"
)

// Subscription status constants
const (
	SubscriptionActive   = "active"
	SubscriptionExpired  = "expired"
	SubscriptionCanceled = "canceled"
)

// Payment status constants
const (
	PaymentPending   = "pending"
	PaymentConfirmed = "confirmed"
	PaymentFailed    = "failed"
)

// Notification status constants
const (
	NotificationPending   = "pending"
	NotificationSent      = "sent"
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
	NotificationRead      = "read"
)

// User represents an account holder. Created on first payment webhook or
// explicit upsert; never hard-deleted.
type User struct {
	ID            string
	Email         string
	Phone         string
	Preferences   string // opaque JSON blob
	WalletAddress string
	CreatedAt     int64
	UpdatedAt     int64
}

// Session is an opaque bearer credential mapping a token to a user identity.
// Expiry is data-driven: rows are never removed, just treated as invalid once
// expires_at has passed.
type Session struct {
	ID           string
	UserID       string
	SessionToken string
	ExpiresAt    int64 // unix seconds
	CreatedAt    int64
}

// PricingPreference holds a user's active billing model. One row per user,
// upserted with last-write-wins semantics.
type PricingPreference struct {
	UserID               string
	PricingModel         string // "pay-per-use" or "subscription"
	PerNotificationPrice decimal.Decimal
	CreatedAt            int64
	UpdatedAt            int64
}

// SubscriptionPlan is a static catalog entry.
type SubscriptionPlan struct {
	ID                string
	Name              string
	NotificationLimit *int64 // nil means unlimited
	Price             decimal.Decimal
	BillingPeriod     string // "monthly" or "yearly"
}

// Subscription is a user's enrollment in a plan. At most one row per user may
// have status "active".
type Subscription struct {
	ID                string
	UserID            string
	PlanID            string
	Status            string
	StartedAt         int64
	ExpiresAt         int64
	NotificationsUsed int64
	PaymentID         string // optional back-reference
	CreatedAt         int64
	UpdatedAt         int64
}

// SubscriptionWithPlan is a subscription joined to its plan's limit fields,
// as the billing resolver consumes it.
type SubscriptionWithPlan struct {
	Subscription
	PlanName          string
	NotificationLimit *int64
	PlanPrice         decimal.Decimal
}

// Payment is an append-only ledger entry. Rows are only ever inserted as
// "confirmed" here; verification happens upstream.
type Payment struct {
	ID              string
	UserID          string
	TransactionHash string
	Network         string
	Amount          decimal.Decimal
	Currency        string
	Status          string
	Resource        string
	CreatedAt       int64
	UpdatedAt       int64
}

// NotificationUsage links one permitted send to its billing disposition:
// a payment id for pay-per-use, nothing for subscription allowance.
type NotificationUsage struct {
	ID             string
	UserID         string
	NotificationID string
	PaymentID      string
	ChargedAmount  *decimal.Decimal
	CreatedAt      int64
}

// Notification is the durable record of a send attempt, whatever the
// delivery outcome was.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Channel   string
	Status    string
	ReadAt    *int64
	CreatedAt int64
	UpdatedAt int64
}

// Store defines the persistence interface for all gateway entities.
// Implementations must scope every query to the given user id; no handler is
// permitted cross-user visibility.
type Store interface {
	// Users
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)

	// Pricing preferences
	UpsertPricingPreference(ctx context.Context, pref *PricingPreference) error
	GetPricingPreference(ctx context.Context, userID string) (*PricingPreference, error)

	// Subscription plans
	GetPlan(ctx context.Context, id string) (*SubscriptionPlan, error)
	ListPlans(ctx context.Context) ([]*SubscriptionPlan, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetActiveSubscription(ctx context.Context, userID string) (*SubscriptionWithPlan, error)

	// Payments
	CreatePayment(ctx context.Context, payment *Payment) error
	ListPayments(ctx context.Context, userID string, limit int) ([]*Payment, error)
	TotalSpent(ctx context.Context, userID string) (decimal.Decimal, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error

	// Usage
	RecordUsage(ctx context.Context, usage *NotificationUsage) error
	ListUsage(ctx context.Context, userID string) ([]*NotificationUsage, error)

	// Close releases any resources held by the store
	Close() error
}
