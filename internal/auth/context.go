// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
	"slices"
)

// Method records how a request was authenticated.
type Method string

const (
	MethodSession Method = "session" // browser cookie
	MethodClaim   Method = "claim"   // Bearer claim token issued by /api/session
	MethodAPIKey  Method = "api_key" // Bearer ad_... key
)

// Scopes granted to API keys.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// APIKeyPrefix starts every API key secret, which is how a Bearer value is
// told apart from a claim token.
const APIKeyPrefix = "ad_"

// AuthContext holds the authenticated identity information extracted from a request.
// Admin is computed server-side from the stored role or an active grant; it is
// never read from anything the client sent.
type AuthContext struct {
	UserID    string
	Email     string
	Role      string
	Admin     bool
	GrantID   string
	Method    Method
	SessionID string   // set for MethodSession
	KeyID     string   // set for MethodAPIKey
	Scopes    []string // nil means unrestricted (session and claim)
}

// IsAdmin returns true if the identity currently holds admin rights. API keys
// additionally need the admin scope.
func (a *AuthContext) IsAdmin() bool {
	if a == nil || !a.Admin {
		return false
	}
	return a.HasScope(ScopeAdmin)
}

// HasScope reports whether the request may act with scope. Session and claim
// authentication carry every scope.
func (a *AuthContext) HasScope(scope string) bool {
	if a == nil {
		return false
	}
	if a.Scopes == nil {
		return true
	}
	return slices.Contains(a.Scopes, scope)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
