// ABOUTME: Profile entity and store methods - the application-level user record
// ABOUTME: Carries role and status used for admin checks and account suspension

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the stored dashboard role of a profile.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// ValidRoles lists all valid profile roles
var ValidRoles = []Role{
	RoleOwner,
	RoleAdmin,
	RoleMember,
	RoleViewer,
}

// IsValid reports whether r is one of ValidRoles.
func (r Role) IsValid() bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// IsAdministrative reports whether the role carries admin rights on its own.
func (r Role) IsAdministrative() bool {
	return r == RoleOwner || r == RoleAdmin
}

// ProfileStatus is the account state of a profile.
type ProfileStatus string

const (
	ProfileActive    ProfileStatus = "active"
	ProfileSuspended ProfileStatus = "suspended"
	ProfileInvited   ProfileStatus = "invited"
)

// IsValid reports whether s is a known profile status.
func (s ProfileStatus) IsValid() bool {
	switch s {
	case ProfileActive, ProfileSuspended, ProfileInvited:
		return true
	}
	return false
}

// Profile is the application-level record of a signed-up user.
type Profile struct {
	ID           string
	Email        string // always lower-cased
	Role         Role
	Status       ProfileStatus
	DisplayName  string
	FirstName    string
	LastName     string
	AvatarURL    string
	PasswordHash string // bcrypt hash, empty if passkey/OAuth only
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Name returns the best human-readable name for the profile.
func (p *Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	full := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if full != "" {
		return full
	}
	return p.Email
}

// ProfileFilter narrows ListProfiles.
type ProfileFilter struct {
	Role   *Role
	Status *ProfileStatus
	Query  string // substring match on email or display name
	Limit  int    // default 100, max 1000
	Offset int
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const profileColumns = `id, email, role, status, display_name, first_name, last_name, avatar_url, password_hash, created_at, updated_at`

// CreateProfile inserts a new profile. CreatedAt/UpdatedAt default to now.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p *Profile) error {
	p.Email = NormalizeEmail(p.Email)
	if p.Role == "" {
		p.Role = RoleMember
	}
	if p.Status == "" {
		p.Status = ProfileActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Email,
		p.Role,
		p.Status,
		p.DisplayName,
		p.FirstName,
		p.LastName,
		p.AvatarURL,
		nullString(p.PasswordHash),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("inserting profile: %w", err)
	}

	s.logger.Info("created profile", "id", p.ID, "email", p.Email, "role", p.Role)
	return nil
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var passwordHash sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&p.ID,
		&p.Email,
		&p.Role,
		&p.Status,
		&p.DisplayName,
		&p.FirstName,
		&p.LastName,
		&p.AvatarURL,
		&passwordHash,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	p.PasswordHash = passwordHash.String

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return p, nil
}

// GetProfileByEmail retrieves a profile by (case-insensitive) email.
func (s *SQLiteStore) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = ?`, NormalizeEmail(email))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile by email: %w", err)
	}
	return p, nil
}

// UpdateProfile writes the editable fields (names, avatar) of a profile.
// Role, status and password go through their dedicated methods.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, p *Profile) error {
	p.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE profiles
		SET display_name = ?, first_name = ?, last_name = ?, avatar_url = ?, updated_at = ?
		WHERE id = ?
	`
	return s.execProfileUpdate(ctx, "updating profile", query,
		p.DisplayName, p.FirstName, p.LastName, p.AvatarURL, formatTime(p.UpdatedAt), p.ID)
}

// UpdateProfileEmail changes a profile's email. Admin grants are bound to
// the email they were issued for, so this silently ends any active grant.
func (s *SQLiteStore) UpdateProfileEmail(ctx context.Context, id, email string) error {
	err := s.execProfileUpdate(ctx, "updating profile email",
		`UPDATE profiles SET email = ?, updated_at = ? WHERE id = ?`, NormalizeEmail(email), nowString(), id)
	if err != nil && isUniqueConstraintError(err) {
		return ErrEmailExists
	}
	return err
}

// UpdateProfileRole changes a profile's stored role.
func (s *SQLiteStore) UpdateProfileRole(ctx context.Context, id string, role Role) error {
	return s.execProfileUpdate(ctx, "updating profile role",
		`UPDATE profiles SET role = ?, updated_at = ? WHERE id = ?`, role, nowString(), id)
}

// UpdateProfileStatus changes a profile's account status.
func (s *SQLiteStore) UpdateProfileStatus(ctx context.Context, id string, status ProfileStatus) error {
	return s.execProfileUpdate(ctx, "updating profile status",
		`UPDATE profiles SET status = ?, updated_at = ? WHERE id = ?`, status, nowString(), id)
}

// UpdateProfilePassword sets a new bcrypt password hash.
func (s *SQLiteStore) UpdateProfilePassword(ctx context.Context, id, passwordHash string) error {
	return s.execProfileUpdate(ctx, "updating profile password",
		`UPDATE profiles SET password_hash = ?, updated_at = ? WHERE id = ?`, nullString(passwordHash), nowString(), id)
}

func (s *SQLiteStore) execProfileUpdate(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ListProfiles returns profiles ordered by creation time.
func (s *SQLiteStore) ListProfiles(ctx context.Context, filter ProfileFilter) ([]*Profile, error) {
	var roleStr, statusStr, queryStr *string
	if filter.Role != nil {
		r := string(*filter.Role)
		roleStr = &r
	}
	if filter.Status != nil {
		st := string(*filter.Status)
		statusStr = &st
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		queryStr = &like
	}

	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE (? IS NULL OR role = ?)
		  AND (? IS NULL OR status = ?)
		  AND (? IS NULL OR email LIKE ? OR lower(display_name) LIKE ?)
		ORDER BY created_at ASC, email ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		roleStr, roleStr,
		statusStr, statusStr,
		queryStr, queryStr, queryStr,
		normalizeListLimit(filter.Limit), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}

	return profiles, nil
}

// CountProfiles returns the total number of profiles.
func (s *SQLiteStore) CountProfiles(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting profiles: %w", err)
	}
	return count, nil
}

// DeleteProfile removes a profile; sessions, grants, keys and instances cascade.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrProfileNotFound
	}

	s.logger.Info("deleted profile", "id", id)
	return nil
}

// normalizeListLimit applies default (100) and cap (1000) to list limits.
func normalizeListLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
