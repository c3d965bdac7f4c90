// ABOUTME: SQLite persistence for MCP sessions
// ABOUTME: Sessions are insert-only; expiry is enforced lazily by the session manager

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSession inserts a new session row.
// Returns ErrDuplicateToken if the token already exists.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO mcp_sessions (id, user_id, session_token, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.SessionToken,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "user_id", session.UserID)
	return nil
}

// GetSessionByToken retrieves a session by its token.
// Returns ErrNotFound if no row exists. Expired rows are returned as-is;
// the caller decides validity.
func (s *SQLiteStore) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	query := `
		SELECT id, user_id, session_token, expires_at, created_at
		FROM mcp_sessions
		WHERE session_token = ?
	`

	var session Session
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&session.ID,
		&session.UserID,
		&session.SessionToken,
		&session.ExpiresAt,
		&session.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	return &session, nil
}
