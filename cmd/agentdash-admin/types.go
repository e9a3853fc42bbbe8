// ABOUTME: Response shapes decoded by agentdash-admin
// ABOUTME: Only the fields the CLI prints are declared

package main

import "time"

type profile struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type grant struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Email      string     `json:"email"`
	Reason     string     `json:"reason"`
	BreakGlass bool       `json:"break_glass"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

type sessionInfo struct {
	State     string     `json:"state"`
	Reason    string     `json:"reason"`
	Profile   *profile   `json:"profile"`
	IsAdmin   bool       `json:"is_admin"`
	Grant     *grant     `json:"grant"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type plan struct {
	ID                string `json:"id"`
	Slug              string `json:"slug"`
	Name              string `json:"name"`
	MonthlyPriceCents int64  `json:"monthly_price_cents"`
	Currency          string `json:"currency"`
	Active            bool   `json:"active"`
}

type apiKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	Secret     string     `json:"secret"`
}

type member struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type invitation struct {
	Member    *member   `json:"member"`
	InviteURL string    `json:"invite_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type auditEntry struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Timestamp  time.Time `json:"ts"`
}

type diagnostics struct {
	Healthy       bool           `json:"healthy"`
	Error         string         `json:"error"`
	SchemaVersion int            `json:"schema_version"`
	Tables        map[string]int `json:"tables"`
	CheckedAt     time.Time      `json:"checked_at"`
}

type sweepResult struct {
	Sessions int64 `json:"sessions"`
	Invites  int64 `json:"invites"`
}
