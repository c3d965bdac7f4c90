// ABOUTME: JSON view types for MCP and HTTP responses
// ABOUTME: Store entities are never serialized directly; views fix the wire shape

package mcp

import (
	"github.com/shopspring/decimal"

	"github.com/x402labs/notify-gateway/internal/store"
)

type userView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	Preferences   string `json:"preferences,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

func newUserView(u *store.User) userView {
	return userView{
		ID:            u.ID,
		Email:         u.Email,
		Phone:         u.Phone,
		Preferences:   u.Preferences,
		WalletAddress: u.WalletAddress,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

type notificationView struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Channel   string `json:"channel"`
	Status    string `json:"status"`
	ReadAt    *int64 `json:"readAt,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func newNotificationView(n *store.Notification) notificationView {
	return notificationView{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Channel:   n.Channel,
		Status:    n.Status,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

type paymentView struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	TransactionHash string          `json:"transactionHash,omitempty"`
	Network         string          `json:"network"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Resource        string          `json:"resource"`
	CreatedAt       int64           `json:"createdAt"`
	UpdatedAt       int64           `json:"updatedAt"`
}

func newPaymentView(p *store.Payment) paymentView {
	return paymentView{
		ID:              p.ID,
		UserID:          p.UserID,
		TransactionHash: p.TransactionHash,
		Network:         p.Network,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          p.Status,
		Resource:        p.Resource,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type subscriptionView struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	PlanID            string          `json:"planId"`
	PlanName          string          `json:"planName"`
	Status            string          `json:"status"`
	StartedAt         int64           `json:"startedAt"`
	ExpiresAt         int64           `json:"expiresAt"`
	NotificationsUsed int64           `json:"notificationsUsed"`
	NotificationLimit *int64          `json:"notificationLimit"`
	Price             decimal.Decimal `json:"price"`
}

func newSubscriptionView(s *store.SubscriptionWithPlan) subscriptionView {
	return subscriptionView{
		ID:                s.ID,
		UserID:            s.UserID,
		PlanID:            s.PlanID,
		PlanName:          s.PlanName,
		Status:            s.Status,
		StartedAt:         s.StartedAt,
		ExpiresAt:         s.ExpiresAt,
		NotificationsUsed: s.NotificationsUsed,
		NotificationLimit: s.NotificationLimit,
		Price:             s.PlanPrice,
	}
}

type pricingPreferenceView struct {
	UserID               string          `json:"userId"`
	PricingModel         string          `json:"pricingModel"`
	PerNotificationPrice decimal.Decimal `json:"perNotificationPrice"`
}

func newPricingPreferenceView(p *store.PricingPreference) pricingPreferenceView {
	return pricingPreferenceView{
		UserID:               p.UserID,
		PricingModel:         p.PricingModel,
		PerNotificationPrice: p.PerNotificationPrice,
	}
}
