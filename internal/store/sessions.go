// ABOUTME: Browser session store methods
// ABOUTME: Sessions are cookie-keyed, slide on refresh and are swept when expired

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session represents an authenticated browser session.
type Session struct {
	ID          string
	UserID      string
	UserAgent   string
	CreatedAt   time.Time
	RefreshedAt time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.RefreshedAt.IsZero() {
		sess.RefreshedAt = sess.CreatedAt
	}

	query := `
		INSERT INTO sessions (id, user_id, user_agent, created_at, refreshed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.UserID,
		sess.UserAgent,
		formatTime(sess.CreatedAt),
		formatTime(sess.RefreshedAt),
		formatTime(sess.ExpiresAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "user_id", sess.UserID)
	return nil
}

// GetSession retrieves a session by ID. Returns ErrSessionNotFound if the
// session doesn't exist or has expired.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, user_id, user_agent, created_at, refreshed_at, expires_at
		FROM sessions
		WHERE id = ? AND expires_at > ?
	`

	var sess Session
	var createdAt, refreshedAt, expiresAt string

	err := s.db.QueryRowContext(ctx, query, id, nowString()).Scan(
		&sess.ID,
		&sess.UserID,
		&sess.UserAgent,
		&createdAt,
		&refreshedAt,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.RefreshedAt, err = parseTime(refreshedAt); err != nil {
		return nil, fmt.Errorf("parsing refreshed_at: %w", err)
	}
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	return &sess, nil
}

// ExtendSession slides a live session's expiry.
func (s *SQLiteStore) ExtendSession(ctx context.Context, id string, refreshedAt, expiresAt time.Time) error {
	query := `UPDATE sessions SET refreshed_at = ?, expires_at = ? WHERE id = ? AND expires_at > ?`

	result, err := s.db.ExecContext(ctx, query, formatTime(refreshedAt), formatTime(expiresAt), id, nowString())
	if err != nil {
		return fmt.Errorf("extending session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession deletes a session. Deleting a missing session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes every session belonging to a user.
func (s *SQLiteStore) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// DeleteExpiredSessions removes all expired sessions.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", nowString())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("cleaned up expired sessions", "count", n)
	}
	return n, nil
}
