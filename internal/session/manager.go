// ABOUTME: Opaque session token minting and validation for the MCP surface
// ABOUTME: Tokens live 24 hours; expiry is checked lazily on validation, never refreshed

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/x402labs/notify-gateway/internal/store"
)

// TokenTTL is the lifetime of a session token.
const TokenTTL = 24 * time.Hour

// tokenCreateAttempts bounds retries on token collision.
const tokenCreateAttempts = 3

// ErrInvalidSession is returned for tokens that were never issued or have
// expired. Callers must not be able to tell the two cases apart.
var ErrInvalidSession = errors.New("invalid or expired session token")

// Manager mints and validates MCP session tokens against the store.
type Manager struct {
	store  store.Store
	logger *slog.Logger
}

// NewManager creates a session manager backed by the given store.
func NewManager(s store.Store) *Manager {
	return &Manager{
		store:  s,
		logger: slog.Default().With("component", "session"),
	}
}

// Create mints a new session token for the user and persists it with a 24h
// expiry. The user row does not need to exist yet: the payment webhook mints
// sessions ahead of user creation.
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	now := time.Now()

	for attempt := 0; attempt < tokenCreateAttempts; attempt++ {
		token, err := generateToken()
		if err != nil {
			return "", fmt.Errorf("generating token: %w", err)
		}

		session := &store.Session{
			ID:           "mcp-" + uuid.New().String(),
			UserID:       userID,
			SessionToken: token,
			ExpiresAt:    now.Add(TokenTTL).Unix(),
			CreatedAt:    now.Unix(),
		}

		err = m.store.CreateSession(ctx, session)
		if err == nil {
			m.logger.Info("session created", "session_id", session.ID, "user_id", userID)
			return token, nil
		}
		if errors.Is(err, store.ErrDuplicateToken) {
			continue
		}
		return "", fmt.Errorf("creating session: %w", err)
	}

	return "", errors.New("could not generate a unique session token")
}

// Validate resolves a token to its user id. Returns ErrInvalidSession when
// the token was never issued or has expired; the check is read-only and never
// extends the session.
func (m *Manager) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidSession
	}

	session, err := m.store.GetSessionByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidSession
	}
	if err != nil {
		return "", fmt.Errorf("looking up session: %w", err)
	}

	if session.ExpiresAt < time.Now().Unix() {
		return "", ErrInvalidSession
	}

	return session.UserID, nil
}

// generateToken returns an opaque bearer token in the form "tok-<32 hex>".
func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "tok-" + hex.EncodeToString(buf), nil
}
