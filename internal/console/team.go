// ABOUTME: Team membership: invitations, acceptance, role changes and removal
// ABOUTME: A team is identified by its owner's profile ID

package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/store"
)

// InviteInput names who to invite and with which team role.
type InviteInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Role  string `json:"role" validate:"required,oneof=admin editor viewer"`
}

// Invitation is a created invite together with its pending seat.
type Invitation struct {
	Member *store.TeamMember
	Invite *store.Invite
	URL    string
}

// InviteMember adds a pending member to the actor's team and creates the
// single-use invite that activates it.
func (s *Service) InviteMember(ctx context.Context, actor *auth.AuthContext, in InviteInput) (*Invitation, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	in.Email = store.NormalizeEmail(in.Email)
	in.Role = strings.TrimSpace(in.Role)
	if err := s.check(&in); err != nil {
		return nil, err
	}
	if in.Email == store.NormalizeEmail(actor.Email) {
		return nil, invalid("email", "cannot invite yourself")
	}

	token, err := auth.GenerateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generating invite token: %w", err)
	}

	now := s.now().UTC()
	m := &store.TeamMember{
		ID:        uuid.New().String(),
		OwnerID:   actor.UserID,
		Email:     in.Email,
		Role:      store.TeamRole(in.Role),
		Status:    store.MemberPending,
		InviteID:  token,
		CreatedAt: now,
	}
	if err := s.store.CreateTeamMember(ctx, m); err != nil {
		return nil, fmt.Errorf("adding team member: %w", err)
	}

	inv := &store.Invite{
		ID:        token,
		Email:     in.Email,
		Role:      in.Role,
		TeamID:    actor.UserID,
		CreatedBy: actor.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.inviteTTL),
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		if derr := s.store.DeleteTeamMember(ctx, m.ID); derr != nil {
			s.logger.Error("failed to roll back pending member", "member_id", m.ID, "error", derr)
		}
		return nil, fmt.Errorf("creating invite: %w", err)
	}

	s.audit(ctx, actor, store.AuditInviteMember, "team_member", m.ID, map[string]any{
		"email":      m.Email,
		"role":       m.Role,
		"expires_at": inv.ExpiresAt.Format(time.RFC3339),
	})
	s.emit(events.ResourceTeam, events.ActionCreated, m.ID, m.OwnerID)
	return &Invitation{Member: m, Invite: inv, URL: s.InviteURL(token)}, nil
}

// InviteURL is the link an invitee follows.
func (s *Service) InviteURL(token string) string {
	return strings.TrimSuffix(s.baseURL, "/") + "/invite/" + token
}

// LookupInvite returns an invite that can still be accepted.
func (s *Service) LookupInvite(ctx context.Context, token string) (*store.Invite, error) {
	inv, err := s.store.GetInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.UsedAt != nil {
		return nil, store.ErrInviteUsed
	}
	if !s.now().Before(inv.ExpiresAt) {
		return nil, store.ErrInviteExpired
	}
	return inv, nil
}

// AcceptInvite activates the seat behind token for the actor. The invite is
// bound to the address it was sent to.
func (s *Service) AcceptInvite(ctx context.Context, actor *auth.AuthContext, token string) (*store.TeamMember, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	inv, err := s.LookupInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	if store.NormalizeEmail(actor.Email) != inv.Email {
		return nil, ErrForbidden
	}

	m, err := s.store.GetTeamMemberByInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.store.AcceptInvite(ctx, token, m.ID, actor.UserID); err != nil {
		return nil, err
	}
	m.UserID = actor.UserID
	m.Status = store.MemberActive

	s.audit(ctx, actor, store.AuditAcceptInvite, "team_member", m.ID, map[string]any{"owner_id": m.OwnerID})
	s.emit(events.ResourceTeam, events.ActionUpdated, m.ID, m.OwnerID)
	return m, nil
}

// ListTeam returns the actor's team.
func (s *Service) ListTeam(ctx context.Context, actor *auth.AuthContext) ([]*store.TeamMember, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}
	return s.store.ListTeamMembers(ctx, actor.UserID)
}

// UpdateMemberRole changes a member's role in the actor's team.
func (s *Service) UpdateMemberRole(ctx context.Context, actor *auth.AuthContext, id, role string) (*store.TeamMember, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	in := struct {
		Role string `json:"role" validate:"required,oneof=admin editor viewer"`
	}{Role: strings.TrimSpace(role)}
	if err := s.check(&in); err != nil {
		return nil, err
	}
	m, err := s.ownedMember(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateTeamMemberRole(ctx, id, store.TeamRole(in.Role)); err != nil {
		return nil, err
	}

	s.audit(ctx, actor, store.AuditUpdateMember, "team_member", id, map[string]any{"from": m.Role, "to": in.Role})
	m.Role = store.TeamRole(in.Role)
	s.emit(events.ResourceTeam, events.ActionUpdated, id, m.OwnerID)
	return m, nil
}

// RemoveMember deletes a seat from the actor's team.
func (s *Service) RemoveMember(ctx context.Context, actor *auth.AuthContext, id string) error {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return err
	}
	m, err := s.ownedMember(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTeamMember(ctx, id); err != nil {
		return err
	}

	s.audit(ctx, actor, store.AuditRemoveMember, "team_member", id, map[string]any{"email": m.Email})
	s.emit(events.ResourceTeam, events.ActionDeleted, id, m.OwnerID)
	return nil
}

func (s *Service) ownedMember(ctx context.Context, actor *auth.AuthContext, id string) (*store.TeamMember, error) {
	m, err := s.store.GetTeamMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != actor.UserID && !actor.IsAdmin() {
		return nil, store.ErrMemberNotFound
	}
	return m, nil
}
