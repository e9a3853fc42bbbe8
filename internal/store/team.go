// ABOUTME: Team member entity and store methods
// ABOUTME: Members start pending with an invite and become active on acceptance

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TeamRole is a member's role within a team.
type TeamRole string

const (
	TeamAdmin  TeamRole = "admin"
	TeamEditor TeamRole = "editor"
	TeamViewer TeamRole = "viewer"
)

// MemberStatus tracks invitation acceptance.
type MemberStatus string

const (
	MemberPending MemberStatus = "pending"
	MemberActive  MemberStatus = "active"
)

// TeamMember is one seat in an owner's team.
type TeamMember struct {
	ID        string
	OwnerID   string
	UserID    string // empty until the invite is accepted
	Email     string
	Role      TeamRole
	Status    MemberStatus
	InviteID  string
	CreatedAt time.Time
}

const memberColumns = `id, owner_id, user_id, email, role, status, invite_id, created_at`

// CreateTeamMember inserts a member. Emails are unique per team.
func (s *SQLiteStore) CreateTeamMember(ctx context.Context, m *TeamMember) error {
	m.Email = NormalizeEmail(m.Email)
	if m.Status == "" {
		m.Status = MemberPending
	}

	query := `
		INSERT INTO team_members (` + memberColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.OwnerID,
		nullString(m.UserID),
		m.Email,
		m.Role,
		m.Status,
		nullString(m.InviteID),
		formatTime(m.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrMemberExists
		}
		if isForeignKeyError(err) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("inserting team member: %w", err)
	}

	s.logger.Info("created team member", "id", m.ID, "owner_id", m.OwnerID, "email", m.Email)
	return nil
}

func scanMember(row rowScanner) (*TeamMember, error) {
	var m TeamMember
	var userID, inviteID sql.NullString
	var createdAt string

	if err := row.Scan(
		&m.ID,
		&m.OwnerID,
		&userID,
		&m.Email,
		&m.Role,
		&m.Status,
		&inviteID,
		&createdAt,
	); err != nil {
		return nil, err
	}

	m.UserID = userID.String
	m.InviteID = inviteID.String

	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

// GetTeamMember retrieves a member by ID.
func (s *SQLiteStore) GetTeamMember(ctx context.Context, id string) (*TeamMember, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying team member: %w", err)
	}
	return m, nil
}

// GetTeamMemberByInvite finds the pending member created with an invite.
func (s *SQLiteStore) GetTeamMemberByInvite(ctx context.Context, inviteID string) (*TeamMember, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE invite_id = ?`, inviteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying team member by invite: %w", err)
	}
	return m, nil
}

// ActivateTeamMember binds a pending member to the accepting profile.
func (s *SQLiteStore) ActivateTeamMember(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE team_members SET user_id = ?, status = ? WHERE id = ? AND status = ?`,
		userID, MemberActive, id, MemberPending)
	if err != nil {
		return fmt.Errorf("activating team member: %w", err)
	}
	return requireRow(result, ErrMemberNotFound)
}

// UpdateTeamMemberRole changes a member's team role.
func (s *SQLiteStore) UpdateTeamMemberRole(ctx context.Context, id string, role TeamRole) error {
	result, err := s.db.ExecContext(ctx, `UPDATE team_members SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("updating team member role: %w", err)
	}
	return requireRow(result, ErrMemberNotFound)
}

// ListTeamMembers lists an owner's team, oldest first.
func (s *SQLiteStore) ListTeamMembers(ctx context.Context, ownerID string) ([]*TeamMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM team_members WHERE owner_id = ? ORDER BY created_at ASC, email ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying team members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []*TeamMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning team member: %w", err)
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating team members: %w", err)
	}
	return members, nil
}

// DeleteTeamMember removes a member from a team.
func (s *SQLiteStore) DeleteTeamMember(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM team_members WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting team member: %w", err)
	}
	if err := requireRow(result, ErrMemberNotFound); err != nil {
		return err
	}
	s.logger.Info("deleted team member", "id", id)
	return nil
}
