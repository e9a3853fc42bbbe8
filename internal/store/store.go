// ABOUTME: Store interface and shared errors for agentdash persistence
// ABOUTME: Groups profile, session, grant, console and audit operations behind one interface

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with an existing row
// (duplicate email, slug, key prefix, team membership...).
var ErrConflict = errors.New("conflict")

// Entity-specific errors. They wrap ErrNotFound / ErrConflict so callers can
// match either the specific or the generic sentinel with errors.Is.
var (
	ErrProfileNotFound  = fmt.Errorf("profile %w", ErrNotFound)
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrGrantNotFound    = fmt.Errorf("admin grant %w", ErrNotFound)
	ErrInviteNotFound   = fmt.Errorf("invite %w", ErrNotFound)
	ErrPlanNotFound     = fmt.Errorf("plan %w", ErrNotFound)
	ErrAPIKeyNotFound   = fmt.Errorf("api key %w", ErrNotFound)
	ErrInstanceNotFound = fmt.Errorf("instance %w", ErrNotFound)
	ErrMemberNotFound   = fmt.Errorf("team member %w", ErrNotFound)
	ErrChannelNotFound  = fmt.Errorf("channel %w", ErrNotFound)

	ErrEmailExists  = fmt.Errorf("email already registered: %w", ErrConflict)
	ErrSlugExists   = fmt.Errorf("slug already in use: %w", ErrConflict)
	ErrMemberExists = fmt.Errorf("team member already exists: %w", ErrConflict)
)

// ErrInviteUsed is returned when an invite has already been accepted.
var ErrInviteUsed = errors.New("invite already used")

// ErrInviteExpired is returned when an invite is past its expiry.
var ErrInviteExpired = errors.New("invite expired")

// Store defines every persistence operation agentdash needs.
// SQLiteStore is the only implementation; consumers declare the narrower
// interfaces they actually use.
type Store interface {
	// Profiles
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*Profile, error)
	UpdateProfile(ctx context.Context, p *Profile) error
	UpdateProfileEmail(ctx context.Context, id, email string) error
	UpdateProfileRole(ctx context.Context, id string, role Role) error
	UpdateProfileStatus(ctx context.Context, id string, status ProfileStatus) error
	UpdateProfilePassword(ctx context.Context, id, passwordHash string) error
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]*Profile, error)
	CountProfiles(ctx context.Context) (int, error)
	DeleteProfile(ctx context.Context, id string) error

	// Sessions
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ExtendSession(ctx context.Context, id string, refreshedAt, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Admin grants
	CreateAdminGrant(ctx context.Context, g *AdminGrant) error
	GetAdminGrant(ctx context.Context, id string) (*AdminGrant, error)
	ActiveAdminGrant(ctx context.Context, userID, email string, now time.Time) (*AdminGrant, error)
	RevokeAdminGrant(ctx context.Context, id, revokedBy string, at time.Time) error
	ListAdminGrants(ctx context.Context, filter GrantFilter) ([]*AdminGrant, error)

	// Invites
	CreateInvite(ctx context.Context, inv *Invite) error
	GetInvite(ctx context.Context, id string) (*Invite, error)
	UseInvite(ctx context.Context, inviteID, userID string) error
	AcceptInvite(ctx context.Context, inviteID, memberID, userID string) error
	DeleteExpiredInvites(ctx context.Context) (int64, error)

	// Credentials
	CreateWebAuthnCredential(ctx context.Context, cred *WebAuthnCredential) error
	GetWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*WebAuthnCredential, error)
	GetWebAuthnCredentialByCredentialID(ctx context.Context, credentialID []byte) (*WebAuthnCredential, error)
	UpdateWebAuthnCredentialSignCount(ctx context.Context, id string, signCount uint32) error
	DeleteWebAuthnCredential(ctx context.Context, id string) error
	LinkOAuthIdentity(ctx context.Context, ident *OAuthIdentity) error
	GetOAuthIdentity(ctx context.Context, provider, subject string) (*OAuthIdentity, error)

	// Plans
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	SetPlanActive(ctx context.Context, id string, active bool) error
	ListPlans(ctx context.Context, includeInactive bool) ([]*Plan, error)
	DeletePlan(ctx context.Context, id string) error

	// API keys
	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	// AI instances
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	UpdateInstance(ctx context.Context, inst *Instance) error
	ListInstances(ctx context.Context, ownerID string) ([]*Instance, error)
	DeleteInstance(ctx context.Context, id string) error

	// Team
	CreateTeamMember(ctx context.Context, m *TeamMember) error
	GetTeamMember(ctx context.Context, id string) (*TeamMember, error)
	GetTeamMemberByInvite(ctx context.Context, inviteID string) (*TeamMember, error)
	ActivateTeamMember(ctx context.Context, id, userID string) error
	UpdateTeamMemberRole(ctx context.Context, id string, role TeamRole) error
	ListTeamMembers(ctx context.Context, ownerID string) ([]*TeamMember, error)
	DeleteTeamMember(ctx context.Context, id string) error

	// Channels
	CreateChannel(ctx context.Context, ch *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	UpdateChannel(ctx context.Context, ch *Channel) error
	ListChannels(ctx context.Context, instanceID string) ([]*Channel, error)
	DeleteChannel(ctx context.Context, id string) error

	// Analytics
	RecordConversation(ctx context.Context, c *Conversation) error
	RecordUsage(ctx context.Context, u *UsageEvent) error
	AnalyticsSummary(ctx context.Context, filter AnalyticsFilter) (*AnalyticsSummary, error)

	// Audit
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)

	// Health
	Ping(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
	TableCounts(ctx context.Context) (map[string]int, error)
	Close() error
}

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
