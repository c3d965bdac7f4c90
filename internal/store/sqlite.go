// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides schema creation, plan seeding and user persistence

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist and the static subscription plan
// catalog is seeded. Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.seedPlans(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding subscription plans: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Timestamps are unix seconds to match the wire contract.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL,
			phone          TEXT,
			preferences    TEXT,
			wallet_address TEXT,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS mcp_sessions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			session_token TEXT NOT NULL UNIQUE,
			expires_at    INTEGER NOT NULL,
			created_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mcp_sessions_token ON mcp_sessions(session_token);

		CREATE TABLE IF NOT EXISTS user_pricing_preferences (
			user_id                TEXT PRIMARY KEY,
			pricing_model          TEXT NOT NULL,
			per_notification_price TEXT NOT NULL DEFAULT '0.99',
			created_at             INTEGER NOT NULL,
			updated_at             INTEGER NOT NULL,

			CHECK (pricing_model IN ('pay-per-use', 'subscription'))
		);

		CREATE TABLE IF NOT EXISTS subscription_plans (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			notification_limit INTEGER,
			price              TEXT NOT NULL,
			billing_period     TEXT NOT NULL,

			CHECK (billing_period IN ('monthly', 'yearly'))
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			plan_id            TEXT NOT NULL REFERENCES subscription_plans(id),
			status             TEXT NOT NULL,
			started_at         INTEGER NOT NULL,
			expires_at         INTEGER NOT NULL,
			notifications_used INTEGER NOT NULL DEFAULT 0,
			payment_id         TEXT,
			created_at         INTEGER NOT NULL,
			updated_at         INTEGER NOT NULL,

			CHECK (status IN ('active', 'expired', 'canceled'))
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_user_status ON subscriptions(user_id, status);

		CREATE TABLE IF NOT EXISTS payments (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			transaction_hash TEXT,
			network          TEXT NOT NULL,
			amount           TEXT NOT NULL,
			currency         TEXT NOT NULL,
			status           TEXT NOT NULL,
			resource         TEXT NOT NULL,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL,

			CHECK (status IN ('pending', 'confirmed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			message    TEXT NOT NULL,
			channel    TEXT NOT NULL,
			status     TEXT NOT NULL,
			read_at    INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,

			CHECK (status IN ('pending', 'sent', 'delivered', 'failed', 'read'))
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS notification_usage (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			notification_id TEXT NOT NULL REFERENCES notifications(id),
			payment_id      TEXT,
			charged_amount  TEXT,
			created_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notification_usage_user ON notification_usage(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// seedPlans inserts the static subscription plan catalog. Idempotent.
func (s *SQLiteStore) seedPlans() error {
	plans := []struct {
		id     string
		name   string
		limit  any // int64 or nil for unlimited
		price  string
		period string
	}{
		{"plan-starter-monthly", "Starter", int64(100), "9.99", "monthly"},
		{"plan-pro-monthly", "Pro", int64(1000), "29.99", "monthly"},
		{"plan-pro-yearly", "Pro (yearly)", int64(1000), "299.99", "yearly"},
		{"plan-unlimited-monthly", "Unlimited", nil, "99.99", "monthly"},
	}

	for _, p := range plans {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO subscription_plans (id, name, notification_limit, price, billing_period)
			VALUES (?, ?, ?, ?, ?)
		`, p.id, p.name, p.limit, p.price, p.period)
		if err != nil {
			return fmt.Errorf("inserting plan %s: %w", p.id, err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveUser inserts or updates a user profile keyed by id.
func (s *SQLiteStore) SaveUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, phone, preferences, wallet_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			phone = excluded.phone,
			preferences = excluded.preferences,
			wallet_address = excluded.wallet_address,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		nullString(user.Phone),
		nullString(user.Preferences),
		nullString(user.WalletAddress),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	s.logger.Debug("saved user", "id", user.ID)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, email, phone, preferences, wallet_address, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	var user User
	var phone, preferences, walletAddress sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&phone,
		&preferences,
		&walletAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.Phone = phone.String
	user.Preferences = preferences.String
	user.WalletAddress = walletAddress.String

	return &user, nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullDecimal returns nil for a nil decimal, otherwise its canonical string
func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
