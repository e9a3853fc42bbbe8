// ABOUTME: Dashboard services for plans, keys, instances, team, channels, analytics and users
// ABOUTME: Every mutation is validated, audited and announced on the change feed

package console

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/dedupe"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// ErrForbidden is returned when the actor may not perform an operation.
var ErrForbidden = errors.New("forbidden")

// DefaultInviteTTL is used when Options.InviteTTL is zero.
const DefaultInviteTTL = 72 * time.Hour

// Store is the persistence the console services use.
type Store interface {
	GetProfile(ctx context.Context, id string) (*store.Profile, error)
	UpdateProfileRole(ctx context.Context, id string, role store.Role) error
	UpdateProfileStatus(ctx context.Context, id string, status store.ProfileStatus) error
	ListProfiles(ctx context.Context, filter store.ProfileFilter) ([]*store.Profile, error)
	DeleteProfile(ctx context.Context, id string) error

	CreateInvite(ctx context.Context, inv *store.Invite) error
	GetInvite(ctx context.Context, id string) (*store.Invite, error)
	AcceptInvite(ctx context.Context, inviteID, memberID, userID string) error
	DeleteExpiredInvites(ctx context.Context) (int64, error)

	CreatePlan(ctx context.Context, p *store.Plan) error
	GetPlan(ctx context.Context, id string) (*store.Plan, error)
	UpdatePlan(ctx context.Context, p *store.Plan) error
	SetPlanActive(ctx context.Context, id string, active bool) error
	ListPlans(ctx context.Context, includeInactive bool) ([]*store.Plan, error)
	DeletePlan(ctx context.Context, id string) error

	CreateAPIKey(ctx context.Context, k *store.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*store.APIKey, error)
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*store.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*store.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	CreateInstance(ctx context.Context, inst *store.Instance) error
	GetInstance(ctx context.Context, id string) (*store.Instance, error)
	UpdateInstance(ctx context.Context, inst *store.Instance) error
	ListInstances(ctx context.Context, ownerID string) ([]*store.Instance, error)
	DeleteInstance(ctx context.Context, id string) error

	CreateTeamMember(ctx context.Context, m *store.TeamMember) error
	GetTeamMember(ctx context.Context, id string) (*store.TeamMember, error)
	GetTeamMemberByInvite(ctx context.Context, inviteID string) (*store.TeamMember, error)
	UpdateTeamMemberRole(ctx context.Context, id string, role store.TeamRole) error
	ListTeamMembers(ctx context.Context, ownerID string) ([]*store.TeamMember, error)
	DeleteTeamMember(ctx context.Context, id string) error

	CreateChannel(ctx context.Context, ch *store.Channel) error
	GetChannel(ctx context.Context, id string) (*store.Channel, error)
	UpdateChannel(ctx context.Context, ch *store.Channel) error
	ListChannels(ctx context.Context, instanceID string) ([]*store.Channel, error)
	DeleteChannel(ctx context.Context, id string) error

	RecordConversation(ctx context.Context, c *store.Conversation) error
	RecordUsage(ctx context.Context, u *store.UsageEvent) error
	AnalyticsSummary(ctx context.Context, filter store.AnalyticsFilter) (*store.AnalyticsSummary, error)

	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
	ListAuditLog(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error)

	Ping(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
	TableCounts(ctx context.Context) (map[string]int, error)
}

// Sessions is the part of the session synchronizer the console drives.
type Sessions interface {
	NotifyProfileUpdated(ctx context.Context, userID string) session.State
	SignOutEverywhere(ctx context.Context, userID string) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
	CacheStats() session.CacheStats
}

// Options configures a Service.
type Options struct {
	Sessions    Sessions        // nil disables session notifications
	Changes     *events.Changes // nil disables the change feed
	Idempotency *dedupe.Cache   // reported by Diagnostics when set
	InviteTTL   time.Duration
	BaseURL     string // used for invite links and widget embeds
	Logger      *slog.Logger
}

// Service implements the dashboard operations.
type Service struct {
	store     Store
	sessions  Sessions
	changes   *events.Changes
	dedupe    *dedupe.Cache
	inviteTTL time.Duration
	baseURL   string
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// New creates the console service.
func New(s Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.InviteTTL <= 0 {
		opts.InviteTTL = DefaultInviteTTL
	}
	return &Service{
		store:     s,
		sessions:  opts.Sessions,
		changes:   opts.Changes,
		dedupe:    opts.Idempotency,
		inviteTTL: opts.InviteTTL,
		baseURL:   opts.BaseURL,
		validate:  newValidator(),
		logger:    logger.With("component", "console"),
		now:       time.Now,
	}
}

func requireActor(actor *auth.AuthContext) error {
	if actor == nil || actor.UserID == "" {
		return ErrForbidden
	}
	return nil
}

// requireScope also checks an API key's scopes; sessions carry every scope.
func requireScope(actor *auth.AuthContext, scope string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.HasScope(scope) {
		return ErrForbidden
	}
	return nil
}

func requireAdmin(actor *auth.AuthContext) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// audit records a mutation. Failures are logged; the mutation has already
// been committed.
func (s *Service) audit(ctx context.Context, actor *auth.AuthContext, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	actorID := "system"
	if actor != nil {
		actorID = actor.UserID
		if actor.KeyID != "" {
			if detail == nil {
				detail = map[string]any{}
			}
			detail["api_key_id"] = actor.KeyID
		}
	}
	err := s.store.AppendAuditLog(ctx, &store.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Error("failed to write audit entry", "action", action, "target_id", targetID, "error", err)
	}
}

func (s *Service) emit(resource, action, id, ownerID string) {
	events.Emit(s.changes, events.Change{
		Resource: resource,
		Action:   action,
		ID:       id,
		OwnerID:  ownerID,
		At:       s.now().UTC(),
	})
}
