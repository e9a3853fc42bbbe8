// ABOUTME: JSON response shapes for store records
// ABOUTME: Secrets such as password and key hashes never leave this package

package api

import (
	"time"

	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// ProfileResponse is a profile without its password hash.
type ProfileResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	HasPassword bool      `json:"has_password"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toProfile(p *store.Profile) *ProfileResponse {
	if p == nil {
		return nil
	}
	return &ProfileResponse{
		ID:          p.ID,
		Email:       p.Email,
		Role:        string(p.Role),
		Status:      string(p.Status),
		Name:        p.Name(),
		DisplayName: p.DisplayName,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		AvatarURL:   p.AvatarURL,
		HasPassword: p.PasswordHash != "",
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toProfiles(ps []*store.Profile) []*ProfileResponse {
	out := make([]*ProfileResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProfile(p))
	}
	return out
}

// GrantResponse is an admin grant.
type GrantResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Email      string     `json:"email"`
	GrantedBy  string     `json:"granted_by"`
	Reason     string     `json:"reason"`
	BreakGlass bool       `json:"break_glass"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	RevokedBy  string     `json:"revoked_by,omitempty"`
}

func toGrant(g *store.AdminGrant) *GrantResponse {
	if g == nil {
		return nil
	}
	return &GrantResponse{
		ID:         g.ID,
		UserID:     g.UserID,
		Email:      g.Email,
		GrantedBy:  g.GrantedBy,
		Reason:     g.Reason,
		BreakGlass: g.BreakGlass,
		CreatedAt:  g.CreatedAt,
		ExpiresAt:  g.ExpiresAt,
		RevokedAt:  g.RevokedAt,
		RevokedBy:  g.RevokedBy,
	}
}

// SessionResponse describes the caller's session state.
type SessionResponse struct {
	State          string           `json:"state"`
	Reason         string           `json:"reason,omitempty"`
	Profile        *ProfileResponse `json:"profile,omitempty"`
	IsAdmin        bool             `json:"is_admin"`
	Grant          *GrantResponse   `json:"grant,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	Claim          string           `json:"claim,omitempty"`
	ClaimExpiresAt *time.Time       `json:"claim_expires_at,omitempty"`
	CSRFToken      string           `json:"csrf_token,omitempty"`
	BreakGlass     bool             `json:"break_glass_available,omitempty"`
}

func toSession(st session.State) *SessionResponse {
	resp := &SessionResponse{
		State:   string(st.Kind),
		Reason:  st.Reason,
		Profile: toProfile(st.Profile),
		IsAdmin: st.IsAdmin,
		Grant:   toGrant(st.Grant),
	}
	if !st.ExpiresAt.IsZero() {
		exp := st.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

// PlanResponse is a subscription plan.
type PlanResponse struct {
	ID                string    `json:"id"`
	Slug              string    `json:"slug"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	MonthlyPriceCents int64     `json:"monthly_price_cents"`
	YearlyPriceCents  int64     `json:"yearly_price_cents"`
	Currency          string    `json:"currency"`
	MaxInstances      int       `json:"max_instances"`
	MaxMessages       int       `json:"max_messages"`
	Features          []string  `json:"features"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toPlan(p *store.Plan) *PlanResponse {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return &PlanResponse{
		ID:                p.ID,
		Slug:              p.Slug,
		Name:              p.Name,
		Description:       p.Description,
		MonthlyPriceCents: p.MonthlyPriceCents,
		YearlyPriceCents:  p.YearlyPriceCents,
		Currency:          p.Currency,
		MaxInstances:      p.MaxInstances,
		MaxMessages:       p.MaxMessages,
		Features:          features,
		Active:            p.Active,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// APIKeyResponse is a key as listed. Secret is set only in the create
// response.
type APIKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	Secret     string     `json:"secret,omitempty"`
}

func toAPIKey(k *store.APIKey) *APIKeyResponse {
	return &APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		Scopes:     k.Scopes,
		CreatedAt:  k.CreatedAt,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
	}
}

// InstanceResponse is an AI instance.
type InstanceResponse struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toInstance(i *store.Instance) *InstanceResponse {
	return &InstanceResponse{
		ID:           i.ID,
		OwnerID:      i.OwnerID,
		Name:         i.Name,
		Slug:         i.Slug,
		Model:        i.Model,
		SystemPrompt: i.SystemPrompt,
		Status:       string(i.Status),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

// ChannelResponse is a channel with secrets masked.
type ChannelResponse struct {
	ID         string            `json:"id"`
	InstanceID string            `json:"instance_id"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name"`
	Enabled    bool              `json:"enabled"`
	Settings   map[string]string `json:"settings"`
	Embed      string            `json:"embed,omitempty"`
	Preview    string            `json:"preview,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func toChannel(v *console.ChannelView) *ChannelResponse {
	settings := v.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	return &ChannelResponse{
		ID:         v.ID,
		InstanceID: v.InstanceID,
		Kind:       string(v.Kind),
		Name:       v.Name,
		Enabled:    v.Enabled,
		Settings:   settings,
		Embed:      v.Embed,
		Preview:    v.Preview,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

// MemberResponse is a team seat.
type MemberResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toMember(m *store.TeamMember) *MemberResponse {
	return &MemberResponse{
		ID:        m.ID,
		UserID:    m.UserID,
		Email:     m.Email,
		Role:      string(m.Role),
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

// InvitationResponse is returned when a member is invited.
type InvitationResponse struct {
	Member    *MemberResponse `json:"member"`
	InviteURL string          `json:"invite_url"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// AuditEntryResponse is one audit log row.
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Timestamp  time.Time      `json:"ts"`
	Detail     map[string]any `json:"detail,omitempty"`
}

func toAuditEntry(e store.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:         e.ID,
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Timestamp:  e.Timestamp,
		Detail:     e.Detail,
	}
}
