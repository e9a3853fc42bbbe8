// ABOUTME: Server-issued, audited, time-boxed admin elevation
// ABOUTME: Owners and admins issue grants; configured users may break glass for themselves

package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// Reason length bounds, in characters.
const (
	MinReasonLength = 8
	MaxReasonLength = 500
)

// ErrInvalidRequest is wrapped by every input validation error.
var ErrInvalidRequest = errors.New("invalid grant request")

// Grant errors
var (
	ErrGrantNotAllowed      = errors.New("not allowed to issue admin grants")
	ErrBreakGlassNotAllowed = errors.New("break-glass is not enabled for this account")
	ErrGrantActive          = errors.New("an admin grant is already active")
	ErrSelfGrant            = fmt.Errorf("%w: use break-glass to elevate yourself", ErrInvalidRequest)
	ErrInvalidTTL           = fmt.Errorf("%w: ttl out of range", ErrInvalidRequest)
	ErrInvalidReason        = fmt.Errorf("%w: reason must be %d-%d characters", ErrInvalidRequest, MinReasonLength, MaxReasonLength)
	ErrInactiveTarget       = fmt.Errorf("%w: account is not active", ErrInvalidRequest)
)

// Store is the persistence the grant service needs.
type Store interface {
	GetProfile(ctx context.Context, id string) (*store.Profile, error)
	CreateAdminGrant(ctx context.Context, g *store.AdminGrant) error
	GetAdminGrant(ctx context.Context, id string) (*store.AdminGrant, error)
	ActiveAdminGrant(ctx context.Context, userID, email string, now time.Time) (*store.AdminGrant, error)
	RevokeAdminGrant(ctx context.Context, id, revokedBy string, at time.Time) error
	ListAdminGrants(ctx context.Context, filter store.GrantFilter) ([]*store.AdminGrant, error)
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// Notifier is told whenever a user's grants change.
type Notifier interface {
	NotifyGrantChanged(ctx context.Context, userID string) session.State
}

// Config bounds grant lifetimes and lists the break-glass users.
type Config struct {
	MaxTTL            time.Duration
	BreakGlassTTL     time.Duration
	BreakGlassUserIDs []string
}

// Service issues, revokes and looks up admin grants.
type Service struct {
	store    Store
	notifier Notifier
	changes  *events.Changes
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a grant service. notifier and changes may be nil.
func New(s Store, notifier Notifier, changes *events.Changes, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		notifier: notifier,
		changes:  changes,
		cfg:      cfg,
		logger:   logger.With("component", "grants"),
		now:      time.Now,
	}
}

// IssueRequest asks for admin rights for UserID lasting TTL.
type IssueRequest struct {
	UserID string
	Reason string
	TTL    time.Duration
}

// Issue grants admin rights to another user. Only actors whose stored role
// is owner or admin may issue; a grant never confers the right to issue.
func (s *Service) Issue(ctx context.Context, actor *auth.AuthContext, req IssueRequest) (*store.AdminGrant, error) {
	if _, err := s.administrator(ctx, actor); err != nil {
		return nil, err
	}

	reason, err := checkReason(req.Reason)
	if err != nil {
		return nil, err
	}
	if req.TTL <= 0 || req.TTL > s.cfg.MaxTTL {
		return nil, fmt.Errorf("%w: must be between 1s and %s", ErrInvalidTTL, s.cfg.MaxTTL)
	}
	if req.UserID == actor.UserID {
		return nil, ErrSelfGrant
	}

	target, err := s.store.GetProfile(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("looking up grantee: %w", err)
	}
	if target.Status != store.ProfileActive {
		return nil, ErrInactiveTarget
	}

	g, err := s.create(ctx, actor.UserID, target, reason, req.TTL, false)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor.UserID, store.AuditGrantAdmin, g)
	s.notify(ctx, g, events.ActionCreated)
	s.logger.Info("admin grant issued",
		"grant_id", g.ID,
		"user_id", g.UserID,
		"granted_by", actor.UserID,
		"expires_at", g.ExpiresAt)
	return g, nil
}

// BreakGlass lets a user listed in server configuration elevate themselves
// for the configured break-glass duration.
func (s *Service) BreakGlass(ctx context.Context, actor *auth.AuthContext, reason string) (*store.AdminGrant, error) {
	if actor == nil {
		return nil, ErrBreakGlassNotAllowed
	}
	if !slices.Contains(s.cfg.BreakGlassUserIDs, actor.UserID) {
		s.logger.Warn("break-glass refused", "user_id", actor.UserID)
		return nil, ErrBreakGlassNotAllowed
	}

	reason, err := checkReason(reason)
	if err != nil {
		return nil, err
	}

	p, err := s.store.GetProfile(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("looking up profile: %w", err)
	}
	if p.Status != store.ProfileActive {
		return nil, ErrBreakGlassNotAllowed
	}

	existing, err := s.store.ActiveAdminGrant(ctx, p.ID, p.Email, s.now())
	switch {
	case err == nil:
		return existing, ErrGrantActive
	case !errors.Is(err, store.ErrGrantNotFound):
		return nil, fmt.Errorf("checking active grants: %w", err)
	}

	g, err := s.create(ctx, p.ID, p, reason, s.cfg.BreakGlassTTL, true)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor.UserID, store.AuditBreakGlass, g)
	s.notify(ctx, g, events.ActionCreated)
	s.logger.Warn("break-glass admin grant issued",
		"grant_id", g.ID,
		"user_id", g.UserID,
		"expires_at", g.ExpiresAt)
	return g, nil
}

// Revoke ends a grant early. Administrators may revoke any grant; anyone may
// revoke their own.
func (s *Service) Revoke(ctx context.Context, actor *auth.AuthContext, grantID string) (*store.AdminGrant, error) {
	if actor == nil {
		return nil, ErrGrantNotAllowed
	}

	g, err := s.store.GetAdminGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if g.UserID != actor.UserID {
		if _, err := s.administrator(ctx, actor); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	if err := s.store.RevokeAdminGrant(ctx, grantID, actor.UserID, now); err != nil {
		return nil, err
	}
	g.RevokedAt = &now
	g.RevokedBy = actor.UserID

	s.audit(ctx, actor.UserID, store.AuditRevokeAdminGrant, g)
	s.notify(ctx, g, events.ActionUpdated)
	s.logger.Info("admin grant revoked", "grant_id", g.ID, "user_id", g.UserID, "revoked_by", actor.UserID)
	return g, nil
}

// Active returns the grant currently conferring admin rights on userID,
// or store.ErrGrantNotFound.
func (s *Service) Active(ctx context.Context, userID, email string) (*store.AdminGrant, error) {
	return s.store.ActiveAdminGrant(ctx, userID, email, s.now())
}

// List returns grants matching filter, newest first.
func (s *Service) List(ctx context.Context, filter store.GrantFilter) ([]*store.AdminGrant, error) {
	return s.store.ListAdminGrants(ctx, filter)
}

// BreakGlassEnabled reports whether userID may break glass.
func (s *Service) BreakGlassEnabled(userID string) bool {
	return slices.Contains(s.cfg.BreakGlassUserIDs, userID)
}

// administrator checks the actor's stored role.
func (s *Service) administrator(ctx context.Context, actor *auth.AuthContext) (*store.Profile, error) {
	if actor == nil {
		return nil, ErrGrantNotAllowed
	}
	if actor.Method == auth.MethodAPIKey && !actor.HasScope(auth.ScopeAdmin) {
		return nil, ErrGrantNotAllowed
	}
	p, err := s.store.GetProfile(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return nil, ErrGrantNotAllowed
		}
		return nil, fmt.Errorf("looking up actor: %w", err)
	}
	if !p.Role.IsAdministrative() || p.Status != store.ProfileActive {
		return nil, ErrGrantNotAllowed
	}
	return p, nil
}

func (s *Service) create(ctx context.Context, grantedBy string, target *store.Profile, reason string, ttl time.Duration, breakGlass bool) (*store.AdminGrant, error) {
	now := s.now().UTC()
	g := &store.AdminGrant{
		ID:         uuid.New().String(),
		UserID:     target.ID,
		Email:      target.Email,
		GrantedBy:  grantedBy,
		Reason:     reason,
		BreakGlass: breakGlass,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.store.CreateAdminGrant(ctx, g); err != nil {
		return nil, fmt.Errorf("creating admin grant: %w", err)
	}
	return g, nil
}

func (s *Service) audit(ctx context.Context, actorID string, action store.AuditAction, g *store.AdminGrant) {
	detail := map[string]any{
		"user_id":     g.UserID,
		"email":       g.Email,
		"reason":      g.Reason,
		"expires_at":  g.ExpiresAt.Format(time.RFC3339),
		"break_glass": g.BreakGlass,
	}
	err := s.store.AppendAuditLog(ctx, &store.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		TargetType: "grant",
		TargetID:   g.ID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Error("failed to write audit entry", "action", action, "grant_id", g.ID, "error", err)
	}
}

// notify re-derives the grantee's sessions and invalidates grant lists.
func (s *Service) notify(ctx context.Context, g *store.AdminGrant, action string) {
	if s.notifier != nil {
		s.notifier.NotifyGrantChanged(ctx, g.UserID)
	}
	events.Emit(s.changes, events.Change{
		Resource: events.ResourceGrants,
		Action:   action,
		ID:       g.ID,
		OwnerID:  g.UserID,
	})
}

func checkReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	n := utf8.RuneCountInString(reason)
	if n < MinReasonLength || n > MaxReasonLength {
		return "", ErrInvalidReason
	}
	return reason, nil
}
