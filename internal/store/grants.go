// ABOUTME: AdminGrant entity and store methods for time-boxed admin elevation
// ABOUTME: ValidFor is the single definition of when a grant confers admin rights

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AdminGrant is a server-issued, audited, time-boxed admin elevation for one
// profile. It never originates from the browser.
type AdminGrant struct {
	ID         string
	UserID     string
	Email      string // email of the grantee at issue time
	GrantedBy  string // actor profile ID
	Reason     string
	BreakGlass bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	RevokedBy  string
}

// ValidFor reports whether the grant confers admin rights on a profile whose
// current email is email, at time now. A grant is valid only while it is
// unexpired, unrevoked and bound to the same email it was issued for.
func (g *AdminGrant) ValidFor(email string, now time.Time) bool {
	if g == nil {
		return false
	}
	return g.RevokedAt == nil &&
		now.Before(g.ExpiresAt) &&
		g.Email == NormalizeEmail(email)
}

// GrantFilter narrows ListAdminGrants.
type GrantFilter struct {
	UserID     *string
	ActiveOnly bool
	Limit      int // default 100, max 1000
}

const grantColumns = `id, user_id, email, granted_by, reason, break_glass, created_at, expires_at, revoked_at, revoked_by`

// CreateAdminGrant stores a new grant.
func (s *SQLiteStore) CreateAdminGrant(ctx context.Context, g *AdminGrant) error {
	g.Email = NormalizeEmail(g.Email)

	query := `
		INSERT INTO admin_grants (` + grantColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	`

	_, err := s.db.ExecContext(ctx, query,
		g.ID,
		g.UserID,
		g.Email,
		g.GrantedBy,
		g.Reason,
		boolToInt(g.BreakGlass),
		formatTime(g.CreatedAt),
		formatTime(g.ExpiresAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("inserting admin grant: %w", err)
	}

	s.logger.Info("created admin grant",
		"id", g.ID,
		"user_id", g.UserID,
		"granted_by", g.GrantedBy,
		"break_glass", g.BreakGlass,
		"expires_at", g.ExpiresAt,
	)
	return nil
}

func scanGrant(row rowScanner) (*AdminGrant, error) {
	var g AdminGrant
	var breakGlass int
	var createdAt, expiresAt string
	var revokedAt, revokedBy sql.NullString

	if err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.Email,
		&g.GrantedBy,
		&g.Reason,
		&breakGlass,
		&createdAt,
		&expiresAt,
		&revokedAt,
		&revokedBy,
	); err != nil {
		return nil, err
	}

	g.BreakGlass = breakGlass != 0
	g.RevokedBy = revokedBy.String

	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if g.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if g.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, fmt.Errorf("parsing revoked_at: %w", err)
	}
	return &g, nil
}

// GetAdminGrant retrieves a grant by ID regardless of validity.
func (s *SQLiteStore) GetAdminGrant(ctx context.Context, id string) (*AdminGrant, error) {
	g, err := scanGrant(s.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM admin_grants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying admin grant: %w", err)
	}
	return g, nil
}

// ActiveAdminGrant returns the longest-lived grant for userID that is valid
// for email at now, or ErrGrantNotFound.
func (s *SQLiteStore) ActiveAdminGrant(ctx context.Context, userID, email string, now time.Time) (*AdminGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM admin_grants
		WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		ORDER BY expires_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("querying active admin grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning admin grant: %w", err)
		}
		if g.ValidFor(email, now) {
			return g, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating admin grants: %w", err)
	}

	return nil, ErrGrantNotFound
}

// RevokeAdminGrant marks a grant revoked. Revoking an already revoked grant
// returns ErrGrantNotFound.
func (s *SQLiteStore) RevokeAdminGrant(ctx context.Context, id, revokedBy string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE admin_grants SET revoked_at = ?, revoked_by = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(at), revokedBy, id)
	if err != nil {
		return fmt.Errorf("revoking admin grant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrGrantNotFound
	}

	s.logger.Info("revoked admin grant", "id", id, "revoked_by", revokedBy)
	return nil
}

// ListAdminGrants lists grants newest first.
func (s *SQLiteStore) ListAdminGrants(ctx context.Context, filter GrantFilter) ([]*AdminGrant, error) {
	var activeAt *string
	if filter.ActiveOnly {
		now := nowString()
		activeAt = &now
	}

	query := `
		SELECT ` + grantColumns + `
		FROM admin_grants
		WHERE (? IS NULL OR user_id = ?)
		  AND (? IS NULL OR (revoked_at IS NULL AND expires_at > ?))
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.UserID, filter.UserID,
		activeAt, activeAt,
		normalizeListLimit(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying admin grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var grants []*AdminGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning admin grant: %w", err)
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating admin grants: %w", err)
	}

	return grants, nil
}
