// ABOUTME: Invite entity and store methods for team invitations
// ABOUTME: Invites are single-use tokens consumed atomically to prevent double acceptance

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Invite is a single-use invitation for an email address to join a team.
type Invite struct {
	ID        string // the token carried in the invite link
	Email     string
	Role      string // team role granted on acceptance
	TeamID    string // owner_id of the inviting team
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	UsedBy    string
}

// CreateInvite stores a new invite.
func (s *SQLiteStore) CreateInvite(ctx context.Context, inv *Invite) error {
	inv.Email = NormalizeEmail(inv.Email)

	query := `
		INSERT INTO invites (id, email, role, team_id, created_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		inv.ID,
		inv.Email,
		inv.Role,
		nullString(inv.TeamID),
		nullString(inv.CreatedBy),
		formatTime(inv.CreatedAt),
		formatTime(inv.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting invite: %w", err)
	}

	s.logger.Info("created invite", "email", inv.Email, "team_id", inv.TeamID, "expires_at", inv.ExpiresAt)
	return nil
}

// GetInvite retrieves an invite by its token.
func (s *SQLiteStore) GetInvite(ctx context.Context, id string) (*Invite, error) {
	query := `
		SELECT id, email, role, team_id, created_by, created_at, expires_at, used_at, used_by
		FROM invites
		WHERE id = ?
	`

	var inv Invite
	var teamID, createdBy, usedAt, usedBy sql.NullString
	var createdAt, expiresAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&inv.ID,
		&inv.Email,
		&inv.Role,
		&teamID,
		&createdBy,
		&createdAt,
		&expiresAt,
		&usedAt,
		&usedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}

	inv.TeamID = teamID.String
	inv.CreatedBy = createdBy.String
	inv.UsedBy = usedBy.String

	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if inv.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if inv.UsedAt, err = parseNullTime(usedAt); err != nil {
		return nil, fmt.Errorf("parsing used_at: %w", err)
	}

	return &inv, nil
}

// UseInvite atomically marks an invite as used by a user.
// Returns ErrInviteUsed if already used, ErrInviteExpired if expired,
// or ErrInviteNotFound if the invite doesn't exist.
func (s *SQLiteStore) UseInvite(ctx context.Context, inviteID, userID string) error {
	now := nowString()

	// Only succeeds if the invite exists, is unused and unexpired; a second
	// concurrent acceptance sees zero rows affected.
	query := `
		UPDATE invites
		SET used_at = ?, used_by = ?
		WHERE id = ?
		  AND used_at IS NULL
		  AND expires_at > ?
	`

	result, err := s.db.ExecContext(ctx, query, now, userID, inviteID, now)
	if err != nil {
		return fmt.Errorf("marking invite as used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Info("invite used", "user_id", userID)
		return nil
	}
	return s.inviteUnavailable(ctx, inviteID)
}

// inviteUnavailable explains why a guarded invite update matched no row.
func (s *SQLiteStore) inviteUnavailable(ctx context.Context, inviteID string) error {
	inv, err := s.GetInvite(ctx, inviteID)
	if err != nil {
		return err
	}
	if inv.UsedAt != nil {
		return ErrInviteUsed
	}
	if !time.Now().Before(inv.ExpiresAt) {
		return ErrInviteExpired
	}

	return ErrInviteNotFound
}

// AcceptInvite consumes the invite and activates the pending seat created
// for it in one transaction. Either both rows change or neither does.
func (s *SQLiteStore) AcceptInvite(ctx context.Context, inviteID, memberID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowString()
	result, err := tx.ExecContext(ctx, `
		UPDATE invites
		SET used_at = ?, used_by = ?
		WHERE id = ?
		  AND used_at IS NULL
		  AND expires_at > ?
	`, now, userID, inviteID, now)
	if err != nil {
		return fmt.Errorf("marking invite as used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Release the connection before the follow-up read.
		_ = tx.Rollback()
		return s.inviteUnavailable(ctx, inviteID)
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE team_members SET user_id = ?, status = ? WHERE id = ? AND invite_id = ? AND status = ?`,
		userID, MemberActive, memberID, inviteID, MemberPending)
	if err != nil {
		return fmt.Errorf("activating team member: %w", err)
	}
	if err := requireRow(result, ErrMemberNotFound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing invite acceptance: %w", err)
	}
	s.logger.Info("invite accepted", "user_id", userID, "member_id", memberID)
	return nil
}

// DeleteExpiredInvites removes unused invites past their expiry.
func (s *SQLiteStore) DeleteExpiredInvites(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM invites WHERE used_at IS NULL AND expires_at <= ?", nowString())
	if err != nil {
		return 0, fmt.Errorf("deleting expired invites: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}
