// ABOUTME: Admin user management: list, inspect, change role or status, delete
// ABOUTME: Every change is pushed to the affected user's open sessions

package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/store"
)

// ErrSelfChange is returned when an admin tries to demote, suspend or delete themselves.
var ErrSelfChange = errors.New("cannot change your own role or status")

// ErrGrantedAdmin is returned when an admin grant is used to change stored
// roles or accounts. Grants are time-boxed and never become a stored role.
var ErrGrantedAdmin = fmt.Errorf("administrator role required, an admin grant is not enough: %w", ErrForbidden)

// ListUsers lists profiles. Admin only.
func (s *Service) ListUsers(ctx context.Context, actor *auth.AuthContext, filter store.ProfileFilter) ([]*store.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListProfiles(ctx, filter)
}

// GetUser returns a profile. Admin only.
func (s *Service) GetUser(ctx context.Context, actor *auth.AuthContext, id string) (*store.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.GetProfile(ctx, id)
}

// UpdateUserRole changes a profile's stored role. Only owners may grant or
// take away the owner role.
func (s *Service) UpdateUserRole(ctx context.Context, actor *auth.AuthContext, id string, role store.Role) (*store.Profile, error) {
	by, target, err := s.userTarget(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, invalid("role", "must be one of: owner, admin, member, viewer")
	}
	if (role == store.RoleOwner || target.Role == store.RoleOwner) && by.Role != store.RoleOwner {
		return nil, ErrForbidden
	}
	if err := s.store.UpdateProfileRole(ctx, id, role); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, store.AuditUpdateUserRole, "profile", id, map[string]any{"from": target.Role, "to": role})
	target.Role = role
	s.profileChanged(ctx, id)
	return target, nil
}

// UpdateUserStatus activates or suspends a profile. Suspending signs the
// user out everywhere.
func (s *Service) UpdateUserStatus(ctx context.Context, actor *auth.AuthContext, id string, status store.ProfileStatus) (*store.Profile, error) {
	by, target, err := s.userTarget(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, invalid("status", "must be one of: active, suspended, invited")
	}
	if target.Role == store.RoleOwner && by.Role != store.RoleOwner {
		return nil, ErrForbidden
	}
	if err := s.store.UpdateProfileStatus(ctx, id, status); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, store.AuditUpdateUserStatus, "profile", id, map[string]any{"from": target.Status, "to": status})
	target.Status = status
	s.profileChanged(ctx, id)
	if status == store.ProfileSuspended {
		s.signOut(ctx, id)
	}
	return target, nil
}

// DeleteUser removes a profile and everything it owns.
func (s *Service) DeleteUser(ctx context.Context, actor *auth.AuthContext, id string) error {
	by, target, err := s.userTarget(ctx, actor, id)
	if err != nil {
		return err
	}
	if target.Role == store.RoleOwner && by.Role != store.RoleOwner {
		return ErrForbidden
	}
	s.signOut(ctx, id)
	if err := s.store.DeleteProfile(ctx, id); err != nil {
		return err
	}

	s.audit(ctx, actor, store.AuditDeleteUser, "profile", id, map[string]any{"email": target.Email})
	s.profileChanged(ctx, id)
	return nil
}

// userTarget returns the acting administrator's stored profile and the
// profile being changed. The actor must hold an administrative role in the
// store; admin rights that come only from a grant are refused.
func (s *Service) userTarget(ctx context.Context, actor *auth.AuthContext, id string) (*store.Profile, *store.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, nil, err
	}
	if id == actor.UserID {
		return nil, nil, ErrSelfChange
	}
	by, err := s.store.GetProfile(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return nil, nil, ErrForbidden
		}
		return nil, nil, fmt.Errorf("looking up actor: %w", err)
	}
	if !by.Role.IsAdministrative() || by.Status != store.ProfileActive {
		return nil, nil, ErrGrantedAdmin
	}
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up user: %w", err)
	}
	return by, p, nil
}

func (s *Service) profileChanged(ctx context.Context, userID string) {
	if s.sessions != nil {
		s.sessions.NotifyProfileUpdated(ctx, userID)
	}
	s.emit(events.ResourceUsers, events.ActionUpdated, userID, userID)
}

func (s *Service) signOut(ctx context.Context, userID string) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.SignOutEverywhere(ctx, userID); err != nil {
		s.logger.Error("failed to sign out user", "user_id", userID, "error", err)
	}
}
